package handler

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

/* ================= helpers ================= */

// newDocroot arma una raíz de documentos de prueba:
//
//	index.html, hello.txt, sub/ (con index), empty/ (sin index)
func newDocroot(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "index.html"), []byte("<h1>home</h1>"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "hello.txt"), []byte("hola mundo\n"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "sub"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "sub", "index.html"), []byte("sub index"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "empty"), 0o755))
	return root
}

// startServe corre Serve sobre un net.Pipe y devuelve el extremo cliente.
func startServe(t *testing.T, docroot string) net.Conn {
	t.Helper()
	client, srv := net.Pipe()
	done := make(chan struct{})
	go func() {
		defer close(done)
		Serve(srv, docroot)
		srv.Close() // en producción cierra el worker
	}()
	t.Cleanup(func() {
		client.Close()
		<-done
	})
	return client
}

type response struct {
	status int
	header map[string]string
	body   string
}

// readResponse parsea status-line, headers y cuerpo por Content-Length.
func readResponse(t *testing.T, br *bufio.Reader) response {
	t.Helper()
	line, err := br.ReadString('\n')
	require.NoError(t, err)
	parts := strings.SplitN(strings.TrimSuffix(line, "\r\n"), " ", 3)
	require.GreaterOrEqual(t, len(parts), 2, "status line: %q", line)
	status, err := strconv.Atoi(parts[1])
	require.NoError(t, err)

	hdr := map[string]string{}
	for {
		l, err := br.ReadString('\n')
		require.NoError(t, err)
		if l == "\r\n" {
			break
		}
		kv := strings.SplitN(strings.TrimSuffix(l, "\r\n"), ":", 2)
		require.Len(t, kv, 2)
		hdr[strings.ToLower(strings.TrimSpace(kv[0]))] = strings.TrimSpace(kv[1])
	}

	n, err := strconv.Atoi(hdr["content-length"])
	require.NoError(t, err, "Content-Length siempre presente")
	body := make([]byte, n)
	_, err = io.ReadFull(br, body)
	require.NoError(t, err)
	return response{status: status, header: hdr, body: string(body)}
}

func get(t *testing.T, conn net.Conn, br *bufio.Reader, target, extra string) response {
	t.Helper()
	_, err := fmt.Fprintf(conn, "GET %s HTTP/1.1\r\nHost: test\r\n%s\r\n", target, extra)
	require.NoError(t, err)
	return readResponse(t, br)
}

/* ================= archivos estáticos ================= */

func TestServe_File(t *testing.T) {
	root := newDocroot(t)
	conn := startServe(t, root)
	br := bufio.NewReader(conn)

	res := get(t, conn, br, "/hello.txt", "Connection: close\r\n")
	require.Equal(t, 200, res.status)
	require.Equal(t, "hola mundo\n", res.body)
	require.Equal(t, "text/plain; charset=utf-8", res.header["content-type"])
	require.Equal(t, "close", res.header["connection"])
	require.NotEmpty(t, res.header["x-request-id"])
}

func TestServe_RootServesIndex(t *testing.T) {
	root := newDocroot(t)
	conn := startServe(t, root)
	br := bufio.NewReader(conn)

	res := get(t, conn, br, "/", "Connection: close\r\n")
	require.Equal(t, 200, res.status)
	require.Equal(t, "<h1>home</h1>", res.body)
	require.Equal(t, "text/html; charset=utf-8", res.header["content-type"])
}

func TestServe_DirectoryIndexAndForbidden(t *testing.T) {
	root := newDocroot(t)
	conn := startServe(t, root)
	br := bufio.NewReader(conn)

	res := get(t, conn, br, "/sub", "")
	require.Equal(t, 200, res.status)
	require.Equal(t, "sub index", res.body)

	// directorio sin index: prohibido
	res = get(t, conn, br, "/empty", "Connection: close\r\n")
	require.Equal(t, 403, res.status)
	require.Empty(t, res.body)
}

func TestServe_NotFound(t *testing.T) {
	root := newDocroot(t)
	conn := startServe(t, root)
	br := bufio.NewReader(conn)

	res := get(t, conn, br, "/nope.txt", "Connection: close\r\n")
	require.Equal(t, 404, res.status)
	require.Empty(t, res.body)
}

func TestServe_TraversalForbidden(t *testing.T) {
	root := newDocroot(t)
	conn := startServe(t, root)
	br := bufio.NewReader(conn)

	res := get(t, conn, br, "/../etc/passwd", "Connection: close\r\n")
	require.Equal(t, 403, res.status)
}

func TestServe_MethodNotAllowed(t *testing.T) {
	root := newDocroot(t)
	conn := startServe(t, root)
	br := bufio.NewReader(conn)

	_, err := fmt.Fprintf(conn, "POST /hello.txt HTTP/1.1\r\nHost: test\r\nConnection: close\r\n\r\n")
	require.NoError(t, err)
	res := readResponse(t, br)
	require.Equal(t, 405, res.status)
}

func TestServe_MalformedRequest(t *testing.T) {
	root := newDocroot(t)
	conn := startServe(t, root)
	br := bufio.NewReader(conn)

	// sin CRLF estricto la petición es malformada
	_, err := fmt.Fprintf(conn, "GET /\n")
	require.NoError(t, err)
	res := readResponse(t, br)
	require.Equal(t, 400, res.status)

	// tras un 400 la conexión se cierra
	_, err = br.ReadByte()
	require.Error(t, err)
}

func TestServe_Head(t *testing.T) {
	root := newDocroot(t)
	conn := startServe(t, root)
	br := bufio.NewReader(conn)

	_, err := fmt.Fprintf(conn, "HEAD /hello.txt HTTP/1.1\r\nHost: test\r\nConnection: close\r\n\r\n")
	require.NoError(t, err)

	line, err := br.ReadString('\n')
	require.NoError(t, err)
	require.Contains(t, line, "200")
	hdr := map[string]string{}
	for {
		l, err := br.ReadString('\n')
		require.NoError(t, err)
		if l == "\r\n" {
			break
		}
		kv := strings.SplitN(strings.TrimSuffix(l, "\r\n"), ":", 2)
		hdr[strings.ToLower(strings.TrimSpace(kv[0]))] = strings.TrimSpace(kv[1])
	}
	// Content-Length anuncia el tamaño pero no hay cuerpo
	require.Equal(t, "11", hdr["content-length"])
	_, err = br.ReadByte()
	require.Error(t, err, "HEAD no envía cuerpo")
}

/* ================= keep-alive ================= */

func TestServe_KeepAliveTwoRequests(t *testing.T) {
	root := newDocroot(t)
	conn := startServe(t, root)
	br := bufio.NewReader(conn)

	// HTTP/1.1 persiste por defecto
	res := get(t, conn, br, "/hello.txt", "")
	require.Equal(t, 200, res.status)
	require.Equal(t, "keep-alive", res.header["connection"])

	// segunda petición en la misma conexión; close explícito
	res = get(t, conn, br, "/", "Connection: close\r\n")
	require.Equal(t, 200, res.status)
	require.Equal(t, "close", res.header["connection"])

	_, err := br.ReadByte()
	require.Error(t, err, "tras Connection: close el servidor corta")
}

func TestServe_HTTP10ClosesByDefault(t *testing.T) {
	root := newDocroot(t)
	conn := startServe(t, root)
	br := bufio.NewReader(conn)

	_, err := fmt.Fprintf(conn, "GET /hello.txt HTTP/1.0\r\n\r\n")
	require.NoError(t, err)
	res := readResponse(t, br)
	require.Equal(t, 200, res.status)
	require.Equal(t, "close", res.header["connection"])

	_, err = br.ReadByte()
	require.Error(t, err)
}

/* ================= ResolveFile ================= */

func TestResolveFile(t *testing.T) {
	root := newDocroot(t)

	path, size, status := ResolveFile(root, "/hello.txt")
	require.Equal(t, 200, status)
	require.Equal(t, filepath.Join(root, "hello.txt"), path)
	require.EqualValues(t, 11, size)

	// la query no participa de la resolución
	_, size, status = ResolveFile(root, "/hello.txt?x=1")
	require.Equal(t, 200, status)
	require.EqualValues(t, 11, size)

	_, _, status = ResolveFile(root, "/")
	require.Equal(t, 200, status)

	_, _, status = ResolveFile(root, "/../secret")
	require.Equal(t, 403, status)

	_, _, status = ResolveFile(root, "/empty")
	require.Equal(t, 403, status)

	_, _, status = ResolveFile(root, "/nope")
	require.Equal(t, 404, status)
}

func TestContentTypeFor(t *testing.T) {
	require.Equal(t, "text/html; charset=utf-8", contentTypeFor("a/b/index.html"))
	require.Equal(t, "image/png", contentTypeFor("logo.PNG"))
	require.Equal(t, "application/octet-stream", contentTypeFor("blob.bin"))
}
