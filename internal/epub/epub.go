// Package epub reads EPUB 2 books: the container, the OPF package, the NCX
// table of contents and the XHTML sections named by the spine.
package epub

import (
	"archive/zip"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net/url"
	"path"
	"path/filepath"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"

	appLog "epdreader/internal/log"
	"epdreader/internal/model"
)

var (
	ErrNotFound    = errors.New("epub: not found")
	ErrOutOfBounds = errors.New("epub: section out of bounds")
	ErrFormat      = errors.New("epub: malformed book")
)

const (
	containerPath = "META-INF/container.xml"
	opfMediaType  = "application/oebps-package+xml"
	ncxMediaType  = "application/x-dtbncx+xml"

	// DefaultCacheSize is the number of parsed sections kept in memory.
	DefaultCacheSize = 4
)

// Supported reports whether name looks like a book this package can open.
func Supported(name string) bool {
	return strings.EqualFold(filepath.Ext(name), ".epub")
}

// Book is an open EPUB archive.
type Book struct {
	closer io.Closer
	files  map[string]*zip.File

	title string
	spine []string // archive paths, reading order
	toc   []model.TocEntry

	sections *lru.Cache[int, []model.TextBlock]
}

// Open opens the book at path. cacheSize <= 0 selects DefaultCacheSize.
func Open(name string, cacheSize int) (*Book, error) {
	rc, err := zip.OpenReader(name)
	if err != nil {
		return nil, fmt.Errorf("epub: open %s: %w", name, err)
	}
	b, err := newBook(&rc.Reader, cacheSize)
	if err != nil {
		rc.Close()
		return nil, err
	}
	b.closer = rc
	appLog.Info("epub: opened", "path", name, "title", b.title, "sections", len(b.spine), "toc", len(b.toc))
	return b, nil
}

// NewReader reads a book from an in-memory or otherwise random-access archive.
func NewReader(r io.ReaderAt, size int64, cacheSize int) (*Book, error) {
	zr, err := zip.NewReader(r, size)
	if err != nil {
		return nil, fmt.Errorf("epub: %w", err)
	}
	return newBook(zr, cacheSize)
}

func newBook(zr *zip.Reader, cacheSize int) (*Book, error) {
	if cacheSize <= 0 {
		cacheSize = DefaultCacheSize
	}
	cache, err := lru.New[int, []model.TextBlock](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("epub: cache: %w", err)
	}
	b := &Book{
		files:    make(map[string]*zip.File, len(zr.File)),
		sections: cache,
	}
	for _, f := range zr.File {
		b.files[f.Name] = f
	}

	opfPath, err := b.rootfile()
	if err != nil {
		return nil, err
	}
	ncxPath, err := b.parseOPF(opfPath)
	if err != nil {
		return nil, err
	}
	if ncxPath == "" {
		// 목차가 없는 책은 spine 순서로 대신한다.
		appLog.Warn("epub: no NCX, using spine as table of contents", "opf", opfPath)
		for _, p := range b.spine {
			b.toc = append(b.toc, model.TocEntry{Title: path.Base(p), Path: p})
		}
		return b, nil
	}
	if err := b.parseNCX(ncxPath); err != nil {
		return nil, err
	}
	return b, nil
}

// Close releases the archive.
func (b *Book) Close() error {
	if b.closer == nil {
		return nil
	}
	return b.closer.Close()
}

// Title returns the dc:title of the book, possibly empty.
func (b *Book) Title() string { return b.title }

// Toc returns the flattened navigation map in document order.
func (b *Book) Toc() []model.TocEntry { return b.toc }

// SectionCount returns the number of spine items.
func (b *Book) SectionCount() int { return len(b.spine) }

// ResolveToc maps a table of contents path to its spine index. The
// #fragment, if any, is ignored.
func (b *Book) ResolveToc(p string) (int, error) {
	p, _, _ = strings.Cut(p, "#")
	for i, s := range b.spine {
		if s == p {
			return i, nil
		}
	}
	return 0, fmt.Errorf("%w: %q not in spine", ErrNotFound, p)
}

// SectionBlocks returns the text blocks of spine item i.
func (b *Book) SectionBlocks(i int) ([]model.TextBlock, error) {
	if i < 0 || i >= len(b.spine) {
		return nil, fmt.Errorf("%w: %d of %d", ErrOutOfBounds, i, len(b.spine))
	}
	if blocks, ok := b.sections.Get(i); ok {
		return blocks, nil
	}
	rc, err := b.open(b.spine[i])
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	blocks, err := parseSection(rc)
	if err != nil {
		return nil, fmt.Errorf("epub: section %s: %w", b.spine[i], err)
	}
	b.sections.Add(i, blocks)
	return blocks, nil
}

func (b *Book) open(name string) (io.ReadCloser, error) {
	f, ok := b.files[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	rc, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("epub: %s: %w", name, err)
	}
	return rc, nil
}

func (b *Book) decode(name string, v any) error {
	rc, err := b.open(name)
	if err != nil {
		return err
	}
	defer rc.Close()
	if err := xml.NewDecoder(rc).Decode(v); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrFormat, name, err)
	}
	return nil
}

type containerXML struct {
	Rootfiles []struct {
		FullPath  string `xml:"full-path,attr"`
		MediaType string `xml:"media-type,attr"`
	} `xml:"rootfiles>rootfile"`
}

func (b *Book) rootfile() (string, error) {
	var c containerXML
	if err := b.decode(containerPath, &c); err != nil {
		return "", err
	}
	for _, r := range c.Rootfiles {
		if r.MediaType == opfMediaType && r.FullPath != "" {
			return r.FullPath, nil
		}
	}
	return "", fmt.Errorf("%w: no OPF rootfile in %s", ErrFormat, containerPath)
}

type opfXML struct {
	Titles   []string `xml:"metadata>title"`
	Manifest []struct {
		ID        string `xml:"id,attr"`
		Href      string `xml:"href,attr"`
		MediaType string `xml:"media-type,attr"`
	} `xml:"manifest>item"`
	Spine struct {
		Toc      string `xml:"toc,attr"`
		ItemRefs []struct {
			IDRef string `xml:"idref,attr"`
		} `xml:"itemref"`
	} `xml:"spine"`
}

// parseOPF fills title and spine and returns the NCX archive path, or ""
// when the book has none.
func (b *Book) parseOPF(opfPath string) (string, error) {
	var o opfXML
	if err := b.decode(opfPath, &o); err != nil {
		return "", err
	}
	if len(o.Titles) > 0 {
		b.title = strings.TrimSpace(o.Titles[0])
	}
	root := path.Dir(opfPath)

	hrefs := make(map[string]string, len(o.Manifest))
	var ncx string
	for _, it := range o.Manifest {
		p := resolve(root, it.Href)
		hrefs[it.ID] = p
		if (o.Spine.Toc != "" && it.ID == o.Spine.Toc) || it.MediaType == ncxMediaType || (ncx == "" && it.ID == "ncx") {
			ncx = p
		}
	}
	for _, ref := range o.Spine.ItemRefs {
		p, ok := hrefs[ref.IDRef]
		if !ok {
			appLog.Warn("epub: spine item not in manifest", "idref", ref.IDRef)
			continue
		}
		b.spine = append(b.spine, p)
	}
	if len(b.spine) == 0 {
		return "", fmt.Errorf("%w: empty spine in %s", ErrFormat, opfPath)
	}
	return ncx, nil
}

type navPoint struct {
	Label   string `xml:"navLabel>text"`
	Content struct {
		Src string `xml:"src,attr"`
	} `xml:"content"`
	Children []navPoint `xml:"navPoint"`
}

type ncxXML struct {
	Title  string     `xml:"docTitle>text"`
	Points []navPoint `xml:"navMap>navPoint"`
}

func (b *Book) parseNCX(ncxPath string) error {
	var n ncxXML
	if err := b.decode(ncxPath, &n); err != nil {
		return err
	}
	if b.title == "" {
		b.title = strings.TrimSpace(n.Title)
	}
	root := path.Dir(ncxPath)
	var walk func(points []navPoint, depth int)
	walk = func(points []navPoint, depth int) {
		for _, np := range points {
			if np.Content.Src != "" {
				b.toc = append(b.toc, model.TocEntry{
					Title: strings.Join(strings.Fields(np.Label), " "),
					Path:  resolve(root, np.Content.Src),
					Depth: depth,
				})
			}
			walk(np.Children, depth+1)
		}
	}
	walk(n.Points, 0)
	return nil
}

// resolve joins an href relative to dir into an archive path, keeping any
// #fragment.
func resolve(dir, href string) string {
	ref, frag, hasFrag := strings.Cut(href, "#")
	if u, err := url.PathUnescape(ref); err == nil {
		ref = u
	}
	p := path.Join(dir, ref)
	if hasFrag {
		p += "#" + frag
	}
	return p
}
