package main

import (
	"io/fs"
	"net/http"
	"path"
	"regexp"
	"strings"
)

// assetPrefix is the URL namespace serving files under the root verbatim
const assetPrefix = "/assets/"

var (
	imgSrcAttr = regexp.MustCompile(`(<img\b[^>]*?\ssrc\s*=\s*)(?:"([^"]*)"|'([^']*)')`)
	urlScheme  = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9+.\-]*:`)
)

// rewriteAssetPaths points relative <img> sources into the asset namespace,
// resolved against the directory of the rendered file. Absolute URLs, data
// URIs and root-relative paths are left as they are.
func rewriteAssetPaths(htmlText, file string) string {
	return imgSrcAttr.ReplaceAllStringFunc(htmlText, func(tag string) string {
		m := imgSrcAttr.FindStringSubmatch(tag)
		quote, src := `"`, m[2]
		if strings.HasPrefix(tag[len(m[1]):], "'") {
			quote, src = "'", m[3]
		}
		rewritten, ok := assetURL(file, src)
		if !ok {
			return tag
		}
		return m[1] + quote + rewritten + quote
	})
}

// assetURL maps src, relative to file's directory, to an /assets/ URL.
// The second result is false when src must not be rewritten.
func assetURL(file, src string) (string, bool) {
	if src == "" || strings.HasPrefix(src, "/") || strings.HasPrefix(src, "#") || urlScheme.MatchString(src) {
		return src, false
	}

	joined := path.Join(path.Dir(file), src)
	// references climbing above the root are clamped to it
	for joined == ".." || strings.HasPrefix(joined, "../") {
		joined = strings.TrimPrefix(strings.TrimPrefix(joined, ".."), "/")
	}
	if joined == "" || joined == "." {
		return src, false
	}
	return assetPrefix + joined, true
}

// assetFileSystem serves files under the root, refusing hidden entries and
// directory listings
type assetFileSystem struct {
	fs http.FileSystem
}

func (a assetFileSystem) Open(name string) (http.File, error) {
	for _, seg := range strings.Split(name, "/") {
		if strings.HasPrefix(seg, ".") {
			return nil, fs.ErrNotExist
		}
	}
	f, err := a.fs.Open(name)
	if err != nil {
		return nil, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	if info.IsDir() {
		f.Close()
		return nil, fs.ErrNotExist
	}
	return f, nil
}

// newAssetHandler serves /assets/<path> from root
func newAssetHandler(root string) http.Handler {
	return http.StripPrefix(assetPrefix, http.FileServer(assetFileSystem{fs: http.Dir(root)}))
}
