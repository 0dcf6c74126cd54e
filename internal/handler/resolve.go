package handler

import (
	"os"
	"path/filepath"
	"strings"
)

const indexFile = "index.html"

// sanitize rechaza cualquier path que contenga "..". Es un chequeo de
// substring, no una defensa exhaustiva contra traversal; eso queda fuera
// del núcleo.
func sanitize(path string) bool {
	return !strings.Contains(path, "..")
}

// ResolveFile mapea un request-target a un archivo bajo docroot con la
// política que comparten handler y estimador:
//   - la query se descarta
//   - "/" (o vacío) sirve index.html
//   - ".." rechaza con 403
//   - un directorio sirve su index.html, o 403 si no existe
//
// Devuelve la ruta en disco, el tamaño y el status HTTP (200, 403 o 404).
// Para status != 200 la ruta es vacía.
func ResolveFile(docroot, target string) (path string, size int64, status int) {
	if i := strings.IndexByte(target, '?'); i >= 0 {
		target = target[:i]
	}
	if !sanitize(target) {
		return "", 0, 403
	}

	if target == "" || target == "/" {
		path = filepath.Join(docroot, indexFile)
	} else {
		path = filepath.Join(docroot, strings.TrimPrefix(target, "/"))
	}

	st, err := os.Stat(path)
	if err != nil {
		return "", 0, 404
	}
	if st.IsDir() {
		path = filepath.Join(path, indexFile)
		st, err = os.Stat(path)
		if err != nil {
			// directorio sin index: este servidor lo trata como prohibido
			return "", 0, 403
		}
	}
	return path, st.Size(), 200
}

// contentTypes cubre las extensiones que este servidor espera servir.
var contentTypes = map[string]string{
	".html": "text/html; charset=utf-8",
	".htm":  "text/html; charset=utf-8",
	".css":  "text/css; charset=utf-8",
	".js":   "application/javascript",
	".json": "application/json",
	".txt":  "text/plain; charset=utf-8",
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".gif":  "image/gif",
	".svg":  "image/svg+xml",
	".ico":  "image/x-icon",
	".pdf":  "application/pdf",
}

func contentTypeFor(path string) string {
	if ct, ok := contentTypes[strings.ToLower(filepath.Ext(path))]; ok {
		return ct
	}
	return "application/octet-stream"
}
