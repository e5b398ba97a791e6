package filetype

import (
	"bufio"
	"bytes"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	lru "github.com/hashicorp/golang-lru/v2"
)

// Kind is the detected kind of a local file.
type Kind int

const (
	KindUnknown Kind = iota
	KindScript
	KindMarkup
	KindStylesheet
	KindScriptAsset
	KindImage
)

func (k Kind) String() string {
	switch k {
	case KindScript:
		return "script"
	case KindMarkup:
		return "markup"
	case KindStylesheet:
		return "stylesheet"
	case KindScriptAsset:
		return "script-asset"
	case KindImage:
		return "image"
	default:
		return "unknown"
	}
}

// Static reports whether files of this kind load as-is.
func (k Kind) Static() bool {
	return k == KindMarkup || k == KindStylesheet || k == KindScriptAsset || k == KindImage
}

const (
	maxFirstLine     = 512
	defaultCacheSize = 1024
)

var extensions = map[string]Kind{
	".htm":   KindMarkup,
	".html":  KindMarkup,
	".xhtml": KindMarkup,
	".shtml": KindMarkup,
	".css":   KindStylesheet,
	".js":    KindScriptAsset,
	".mjs":   KindScriptAsset,
	".png":   KindImage,
	".jpg":   KindImage,
	".jpeg":  KindImage,
	".gif":   KindImage,
	".svg":   KindImage,
	".webp":  KindImage,
	".ico":   KindImage,
	".bmp":   KindImage,
}

type cacheKey struct {
	path  string
	size  int64
	mtime time.Time
}

// Detector classifies files by shebang, extension and content.
type Detector struct {
	shebang *regexp.Regexp
	cache   *lru.Cache[cacheKey, Kind]
}

// NewDetector compiles the shebang pattern and allocates the result cache.
// cacheSize <= 0 selects a default size.
func NewDetector(shebangPattern string, cacheSize int) (*Detector, error) {
	re, err := regexp.Compile(shebangPattern)
	if err != nil {
		return nil, err
	}
	if cacheSize <= 0 {
		cacheSize = defaultCacheSize
	}
	cache, err := lru.New[cacheKey, Kind](cacheSize)
	if err != nil {
		return nil, err
	}
	return &Detector{shebang: re, cache: cache}, nil
}

// Classify returns the kind of the file at path. A first line matching the
// shebang pattern wins over the extension, and content sniffing only runs
// when the extension is unknown. A file that cannot be read is classified by
// extension alone.
func (d *Detector) Classify(path string) Kind {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return ByExtension(path)
	}

	key := cacheKey{path: path, size: info.Size(), mtime: info.ModTime()}
	if kind, ok := d.cache.Get(key); ok {
		return kind
	}

	kind := d.classifyFile(path)
	d.cache.Add(key, kind)
	return kind
}

func (d *Detector) classifyFile(path string) Kind {
	f, err := os.Open(path)
	if err != nil {
		return ByExtension(path)
	}
	defer f.Close()

	if line, ok := firstLine(f); ok && d.shebang.Match(line) {
		return KindScript
	}

	if kind := ByExtension(path); kind != KindUnknown {
		return kind
	}

	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return KindUnknown
	}
	mt, err := mimetype.DetectReader(f)
	if err != nil {
		return KindUnknown
	}
	return byMIME(mt)
}

// ByExtension maps the file extension, case-insensitively.
func ByExtension(path string) Kind {
	return extensions[strings.ToLower(filepath.Ext(path))]
}

// byMIME only recognizes binary formats. Sniffed text stays unknown so an
// extensionless file that prints markup still runs as a script.
func byMIME(mt *mimetype.MIME) Kind {
	for m := mt; m != nil; m = m.Parent() {
		if strings.HasPrefix(m.String(), "image/") && !m.Is("image/svg+xml") {
			return KindImage
		}
	}
	return KindUnknown
}

func firstLine(r io.Reader) ([]byte, bool) {
	br := bufio.NewReaderSize(io.LimitReader(r, maxFirstLine), maxFirstLine)
	line, err := br.ReadSlice('\n')
	if len(line) == 0 && err != nil {
		return nil, false
	}
	return bytes.TrimRight(line, "\r\n"), true
}
