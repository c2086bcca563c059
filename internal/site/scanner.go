package site

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"

	"github.com/starford/marksite/internal/apperr"
	"github.com/starford/marksite/internal/checksum"
	"github.com/starford/marksite/internal/logfields"
	"github.com/starford/marksite/internal/metrics"
	"github.com/starford/marksite/internal/models"
	"github.com/starford/marksite/internal/parser"
)

// Options configures a Scanner.
type Options struct {
	Root         string
	Rules        URLRules
	StaticFolder string
	IgnoreDirs   []string
	IgnoreGlobs  []string
	TagSources   []models.TagSource
	InlineSource string
	Workers      int
}

// DefaultWorkers is the pool size used when none is configured.
func DefaultWorkers() int {
	return min(runtime.NumCPU(), 16)
}

// Scanner walks a content root and builds an Index.
type Scanner struct {
	opts     Options
	root     string
	ignore   *Ignore
	logger   *slog.Logger
	recorder metrics.Recorder
}

// NewScanner validates opts and compiles ignore rules.
func NewScanner(opts Options, logger *slog.Logger) (*Scanner, error) {
	root, err := filepath.Abs(opts.Root)
	if err != nil {
		return nil, fmt.Errorf("site: resolve root: %w", err)
	}
	ig, err := NewIgnore(opts.IgnoreDirs, opts.IgnoreGlobs)
	if err != nil {
		return nil, err
	}
	if opts.Workers <= 0 {
		opts.Workers = DefaultWorkers()
	}
	return &Scanner{
		opts:     opts,
		root:     root,
		ignore:   ig,
		logger:   logger,
		recorder: metrics.NoopRecorder{},
	}, nil
}

// WithRecorder sets the metrics recorder.
func (s *Scanner) WithRecorder(r metrics.Recorder) *Scanner {
	s.recorder = r
	return s
}

// Exclude returns a scanner that additionally prunes the given directories,
// relative to the root.
func (s *Scanner) Exclude(rels ...string) *Scanner {
	cp := *s
	cp.ignore = s.ignore.Exclude(rels...)
	return &cp
}

func (s *Scanner) Root() string     { return s.root }
func (s *Scanner) Rules() URLRules  { return s.opts.Rules }
func (s *Scanner) Ignore() *Ignore  { return s.ignore }
func (s *Scanner) Options() Options { return s.opts }

type dirListing struct {
	rel   string
	files []string
	dirs  []string
}

type parsedFile struct {
	meta     *models.FileMetadata
	res      *parser.Result
	accepted bool
}

// Scan builds a complete index. It fails only when the root itself cannot be
// read; unreadable files and directories are skipped with a warning.
func (s *Scanner) Scan(ctx context.Context) (*Index, error) {
	start := time.Now()
	if _, err := os.ReadDir(s.root); err != nil {
		return nil, fmt.Errorf("site: scan %s: %w: %w", s.root, apperr.ErrRootUnreadable, err)
	}

	listings, err := s.walk(ctx)
	if err != nil {
		return nil, err
	}

	var pages, others []string
	for _, l := range listings {
		for _, rel := range l.files {
			if !s.isStatic(rel) && s.opts.Rules.IsMarkdown(rel) {
				pages = append(pages, rel)
			} else {
				others = append(others, rel)
			}
		}
	}
	sort.Strings(pages)
	sort.Slice(listings, func(i, j int) bool { return listings[i].rel < listings[j].rel })

	parsed, err := s.parseAll(ctx, pages)
	if err != nil {
		return nil, err
	}

	idx := s.aggregate(listings, parsed, others)
	idx.ScannedAt = time.Now()
	s.recorder.ObserveScan(time.Since(start), len(idx.Files))
	s.logger.Debug("site: scan complete",
		logfields.Count(len(idx.Files)),
		logfields.Duration(time.Since(start)))
	return idx, nil
}

// walk traverses the tree in parallel. Ignored directories are pruned before
// they are queued, so nothing below them is read.
func (s *Scanner) walk(ctx context.Context) ([]dirListing, error) {
	var (
		mu  sync.Mutex
		out []dirListing
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.Workers)

	var visit func(rel string)
	visit = func(rel string) {
		if gctx.Err() != nil {
			return
		}
		entries, err := os.ReadDir(filepath.Join(s.root, filepath.FromSlash(rel)))
		if err != nil {
			s.logger.Warn("site: skip unreadable directory", logfields.Path(rel), logfields.Error(err))
			return
		}
		l := dirListing{rel: rel}
		for _, e := range entries {
			child := path.Join(rel, e.Name())
			isDir := e.IsDir()
			if e.Type()&fs.ModeSymlink != 0 {
				info, err := os.Stat(filepath.Join(s.root, filepath.FromSlash(child)))
				if err != nil {
					s.logger.Warn("site: skip dangling symlink", logfields.Path(child), logfields.Error(err))
					continue
				}
				if info.IsDir() {
					continue
				}
			}
			if isDir {
				if !s.ignore.SkipDir(child) {
					l.dirs = append(l.dirs, child)
				}
				continue
			}
			if !s.ignore.SkipFile(child) {
				l.files = append(l.files, child)
			}
		}

		mu.Lock()
		out = append(out, l)
		mu.Unlock()

		for _, d := range l.dirs {
			if !g.TryGo(func() error { visit(d); return nil }) {
				visit(d)
			}
		}
	}

	visit("")
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Scanner) parseAll(ctx context.Context, rels []string) ([]*parsedFile, error) {
	out := make([]*parsedFile, len(rels))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.Workers)
	for i, rel := range rels {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			p, err := s.parseFile(rel)
			if err != nil {
				s.logger.Warn("site: skip unreadable file", logfields.Path(rel), logfields.Error(err))
				return nil
			}
			out[i] = p
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Scanner) parseFile(rel string) (*parsedFile, error) {
	abs := filepath.Join(s.root, filepath.FromSlash(rel))
	info, err := os.Stat(abs)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return nil, err
	}

	var opts []parser.Option
	if s.opts.InlineSource != "" {
		opts = append(opts, parser.WithInlineSource(s.opts.InlineSource))
	}
	res := parser.Extract(data, s.opts.TagSources, opts...)

	title := res.Title
	if title == "" {
		title = humanize(path.Base(s.opts.Rules.Stem(rel)))
	}
	return &parsedFile{
		res: res,
		meta: &models.FileMetadata{
			Path:        rel,
			Title:       title,
			Description: res.Description,
			Frontmatter: res.Frontmatter,
			Tags:        make(map[string][]models.NormalizedTag),
			ModTime:     info.ModTime(),
			Size:        info.Size(),
			Checksum:    checksum.Sum(data),
		},
	}, nil
}

// aggregate merges per-file results into one index. It runs on a single
// goroutine and visits files in lexicographic path order, which fixes the
// display form of every tag to its first occurrence.
func (s *Scanner) aggregate(listings []dirListing, parsed []*parsedFile, others []string) *Index {
	rules := s.opts.Rules
	idx := newIndex(s.root, rules)

	claims := make(map[string]string)
	ranks := make(map[string]int)
	for _, p := range parsed {
		if p == nil {
			continue
		}
		rank := rules.IndexRank(path.Base(p.meta.Path))
		if rank < 0 {
			continue
		}
		dir := relDir(p.meta.Path)
		if cur, ok := ranks[dir]; !ok || rank < cur {
			ranks[dir] = rank
			claims[dir] = p.meta.Path
		}
	}

	taken := make(map[string]string)
	assign := func(p *parsedFile, claim bool) {
		u := rules.PageURL(p.meta.Path, claim)
		if other, ok := taken[u]; ok {
			s.logger.Warn("site: url already claimed, skipping file",
				logfields.Path(p.meta.Path), logfields.URLPath(u), slog.String("claimed_by", other))
			return
		}
		taken[u] = p.meta.Path
		p.meta.URLPath = u
		p.accepted = true
	}
	for _, p := range parsed {
		if p != nil && claims[relDir(p.meta.Path)] == p.meta.Path {
			assign(p, true)
		}
	}
	for _, p := range parsed {
		if p != nil && claims[relDir(p.meta.Path)] != p.meta.Path {
			assign(p, false)
		}
	}

	for _, src := range s.opts.TagSources {
		singular, plural := parser.Labels(src)
		idx.TagSources[src.Field] = &models.TagSourceIndex{
			ID:          src.Field,
			Field:       src.Field,
			Label:       singular,
			LabelPlural: plural,
			URLPath:     DirURL(src.Slug()),
			Tags:        make(map[string]*models.TagEntry),
		}
		idx.SourceOrder = append(idx.SourceOrder, src.Field)
	}

	for _, p := range parsed {
		if p == nil || !p.accepted {
			continue
		}
		for _, src := range s.opts.TagSources {
			ti := idx.TagSources[src.Field]
			tags := p.res.Tags[src.Field]
			if len(tags) == 0 {
				continue
			}
			canon := make([]models.NormalizedTag, 0, len(tags))
			for _, t := range tags {
				e, ok := ti.Tags[t.Normalized]
				if !ok {
					e = &models.TagEntry{NormalizedTag: t}
					ti.Tags[t.Normalized] = e
					ti.Order = append(ti.Order, t.Normalized)
				}
				e.Count++
				e.Files = append(e.Files, p.meta.URLPath)
				canon = append(canon, e.NormalizedTag)
			}
			p.meta.Tags[src.Field] = canon
		}
		idx.addFile(p.meta)
	}

	for _, l := range listings {
		if s.isStatic(l.rel) {
			continue
		}
		folder := &models.FolderMetadata{
			Path:    l.rel,
			URLPath: DirURL(l.rel),
			Title:   humanize(path.Base(l.rel)),
			Files:   []string{},
			Folders: []string{},
		}
		if l.rel == "" {
			folder.Title = "Home"
		}
		if claim, ok := claims[l.rel]; ok {
			if f, ok := idx.byPath[claim]; ok {
				folder.IndexFile = claim
				folder.Title = f.Title
			}
		}
		for _, rel := range l.files {
			if f, ok := idx.byPath[rel]; ok && rel != folder.IndexFile {
				folder.Files = append(folder.Files, f.URLPath)
			}
		}
		for _, d := range l.dirs {
			if !s.isStatic(d) {
				folder.Folders = append(folder.Folders, DirURL(d))
			}
		}
		sort.Strings(folder.Files)
		sort.Strings(folder.Folders)
		idx.Folders[folder.URLPath] = folder
	}

	for _, rel := range others {
		if s.isStatic(rel) {
			idx.Static[FileURL(strings.TrimPrefix(rel, s.opts.StaticFolder+"/"))] = rel
			continue
		}
		idx.Assets[FileURL(rel)] = rel
	}

	idx.seal()
	return idx
}

func (s *Scanner) isStatic(rel string) bool {
	sf := s.opts.StaticFolder
	return sf != "" && (rel == sf || strings.HasPrefix(rel, sf+"/"))
}

func relDir(rel string) string {
	d := path.Dir(rel)
	if d == "." {
		return ""
	}
	return d
}

// humanize turns a file or directory name into a readable title.
func humanize(name string) string {
	words := strings.FieldsFunc(name, func(r rune) bool { return r == '-' || r == '_' })
	if len(words) == 0 {
		return name
	}
	r, size := utf8.DecodeRuneInString(words[0])
	words[0] = string(unicode.ToUpper(r)) + words[0][size:]
	return strings.Join(words, " ")
}
