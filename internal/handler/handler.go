// Package handler atiende una conexión ya aceptada: parsea peticiones
// HTTP mínimas y sirve archivos estáticos bajo la raíz de documentos.
// No cierra la conexión; eso es responsabilidad del worker que lo invoca.
package handler

import (
	"bufio"
	"errors"
	"io"
	"net"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"so-fileserver-demo/internal/metrics"
	"so-fileserver-demo/internal/util"
)

const (
	// maxRequests acota la reutilización de una conexión (keep-alive).
	maxRequests = 100
	// idleTimeout es el plazo de lectura entre peticiones de la misma conexión.
	idleTimeout = 5 * time.Second

	readBufSize = 8192
)

var errMalformed = errors.New("malformed request")

// request es el mínimo parseado de la request-line y headers.
type request struct {
	method string
	target string
	proto  string
	header map[string]string
}

// Serve conduce el intercambio completo sobre conn: una o más peticiones
// (keep-alive acotado por maxRequests e idleTimeout) hasta que el cliente
// cierre, pida Connection: close o ocurra un error de framing.
func Serve(conn net.Conn, docroot string) {
	br := bufio.NewReaderSize(conn, readBufSize)
	reqID := util.NewReqID()

	for served := 0; served < maxRequests; served++ {
		_ = conn.SetReadDeadline(time.Now().Add(idleTimeout))
		req, err := readRequest(br)
		if err != nil {
			if errors.Is(err, errMalformed) {
				_ = writeEmpty(conn, 400, false, reqID)
				metrics.RecordRequest(0, 0, 400)
			}
			// EOF, timeout o conexión cerrada: terminar sin ruido
			return
		}

		start := time.Now()
		keep := wantKeepAlive(req) && served+1 < maxRequests
		status, n := serveOne(conn, docroot, req, keep, reqID)
		metrics.RecordRequest(time.Since(start).Milliseconds(), n, status)

		if !keep {
			return
		}
	}
}

// serveOne responde una petición y devuelve (status, bytes de cuerpo enviados).
func serveOne(conn net.Conn, docroot string, req *request, keep bool, reqID string) (int, int64) {
	if req.method != "GET" && req.method != "HEAD" {
		_ = writeEmpty(conn, 405, keep, reqID)
		return 405, 0
	}

	path, size, status := ResolveFile(docroot, req.target)
	if status != 200 {
		_ = writeEmpty(conn, status, keep, reqID)
		return status, 0
	}

	f, err := os.Open(path)
	if err != nil {
		zap.S().Named("handler").Warnw("open failed", "path", path, "error", err)
		_ = writeEmpty(conn, 500, keep, reqID)
		return 500, 0
	}
	defer f.Close()

	if err := writeHead(conn, 200, contentTypeFor(path), size, keep, reqID); err != nil {
		return 200, 0
	}
	if req.method == "HEAD" {
		return 200, 0
	}

	// io.Copy delega en TCPConn.ReadFrom: sendfile donde la plataforma lo tiene
	n, err := io.Copy(conn, f)
	if err != nil {
		zap.S().Named("handler").Debugw("short write", "path", path, "sent", n, "error", err)
	}
	return 200, n
}

// readRequest lee "METHOD SP target SP proto CRLF" y los headers hasta la
// línea en blanco. Formato estricto: líneas sin CRLF son malformación.
func readRequest(br *bufio.Reader) (*request, error) {
	line, err := br.ReadString('\n')
	if err != nil {
		return nil, err
	}
	if !strings.HasSuffix(line, "\r\n") {
		return nil, errMalformed
	}
	parts := strings.Split(strings.TrimSuffix(line, "\r\n"), " ")
	if len(parts) != 3 {
		return nil, errMalformed
	}
	req := &request{
		method: parts[0],
		target: parts[1],
		proto:  parts[2],
		header: map[string]string{},
	}

	for {
		l, err := br.ReadString('\n')
		if err != nil {
			return nil, errMalformed
		}
		if l == "\r\n" {
			break
		}
		if !strings.HasSuffix(l, "\r\n") {
			return nil, errMalformed
		}
		kv := strings.SplitN(strings.TrimSuffix(l, "\r\n"), ":", 2)
		if len(kv) != 2 {
			return nil, errMalformed
		}
		req.header[strings.ToLower(strings.TrimSpace(kv[0]))] = strings.TrimSpace(kv[1])
	}
	return req, nil
}

// wantKeepAlive aplica el default del protocolo: HTTP/1.1 persiste salvo
// "Connection: close"; HTTP/1.0 cierra salvo "Connection: keep-alive".
func wantKeepAlive(req *request) bool {
	c := strings.ToLower(req.header["connection"])
	if req.proto == "HTTP/1.1" {
		return c != "close"
	}
	return c == "keep-alive"
}
