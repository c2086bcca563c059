package checksum

import "testing"

func TestSum(t *testing.T) {
	got := Sum([]byte("abc"))
	want := "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad"
	if got != want {
		t.Errorf("Sum = %s, want %s", got, want)
	}
}

func TestETag(t *testing.T) {
	sum := Sum([]byte("abc"))
	if got := ETag(sum, 3); got != `"ba7816bf8f01cfea-3"` {
		t.Errorf("ETag = %s", got)
	}
	if ETag(sum, 3) == ETag(sum, 4) {
		t.Error("generation must change the tag")
	}
}
