// Package server corre el lado productor del sistema: el bucle de accept
// en el hilo principal, la estimación de costo previa al encolado y la
// construcción del job que se entrega al pool.
package server

import (
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"so-fileserver-demo/internal/estimate"
	"so-fileserver-demo/internal/pool"
	"so-fileserver-demo/internal/sched"
)

// Serve acepta conexiones de ln y las somete al pool hasta que el listener
// se cierre (shutdown) o un error de accept persista más allá del backoff.
//
// Flujo por conexión: accept → estimar costo (peek) → armar job → Submit.
// Si Submit falla (pool cerrándose) el acceptor conserva la propiedad de
// la conexión y la cierra. La contrapresión es implícita: con la cola
// llena Submit bloquea, el accept se detiene y el backlog del kernel hace
// el resto.
func Serve(ln net.Listener, p *pool.Pool) error {
	log := zap.S().Named("server")

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 10 * time.Millisecond
	bo.MaxInterval = time.Second
	bo.MaxElapsedTime = 30 * time.Second

	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				// shutdown ordenado: el listener fue cerrado
				return nil
			}
			d := bo.NextBackOff()
			if d == backoff.Stop {
				return fmt.Errorf("accept: %w", err)
			}
			log.Warnw("accept failed; retrying", "error", err, "backoff", d)
			time.Sleep(d)
			continue
		}
		bo.Reset()

		job := sched.Job{
			Conn:      conn,
			EstCost:   estimate.Cost(conn, p.Docroot()),
			Priority:  0,
			ArrivalMS: sched.NowMS(),
		}
		if err := p.Submit(job); err != nil {
			// pool en shutdown: la conexión sigue siendo nuestra
			conn.Close()
		}
	}
}
