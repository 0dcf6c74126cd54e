package pool

import (
	"errors"
	"net"
	"sync"

	"go.uber.org/zap"

	"so-fileserver-demo/internal/handler"
	"so-fileserver-demo/internal/sched"
)

var (
	// ErrShuttingDown lo devuelve Submit cuando observa el shutdown; el
	// llamador conserva la propiedad de la conexión y debe cerrarla.
	ErrShuttingDown = errors.New("pool shutting down")
	// ErrCapacityTooSmall lo devuelve SetScheduler si la política nueva no
	// puede alojar los jobs residentes; el cambio se rechaza atómicamente.
	ErrCapacityTooSmall = errors.New("new scheduler cannot hold resident jobs")
)

// HandlerFunc atiende el intercambio completo sobre la conexión y retorna.
// No debe cerrar la conexión; cerrarla es responsabilidad del worker.
type HandlerFunc func(conn net.Conn, docroot string)

// Hooks son ganchos consultivos de métricas. Solo efectos secundarios:
// no pueden fallar, bloquear ni llamar de vuelta al pool.
type Hooks struct {
	OnSubmit func(estCost int64)
	OnPop    func(estCost int64)
}

// Pool es el pool de workers con cola acotada y política intercambiable.
// Un único mutex serializa la mutación de la cola, la referencia al
// scheduler y la observación del shutdown; dos condvars (notEmpty/notFull)
// implementan el productor-consumidor acotado.
type Pool struct {
	mu       sync.Mutex
	notEmpty *sync.Cond
	notFull  *sync.Cond
	sched    sched.Scheduler
	shutdown bool

	workers int
	docroot string // inmutable tras New; los handlers la comparten solo-lectura
	handler HandlerFunc
	hooks   Hooks
	wg      sync.WaitGroup
	log     *zap.SugaredLogger
}

// Option configura el Pool en New.
type Option func(*Pool)

// WithScheduler instala la política inicial (default: FIFO de la capacidad dada).
func WithScheduler(s sched.Scheduler) Option { return func(p *Pool) { p.sched = s } }

// WithHandler reemplaza el handler (default: handler.Serve, archivos estáticos).
func WithHandler(h HandlerFunc) Option { return func(p *Pool) { p.handler = h } }

// WithHooks instala los ganchos de métricas.
func WithHooks(h Hooks) Option { return func(p *Pool) { p.hooks = h } }

// WithLogger reemplaza el logger (default: el global de zap).
func WithLogger(l *zap.SugaredLogger) Option { return func(p *Pool) { p.log = l } }

// New crea el pool y lanza los workers. workers==0 es válido (nadie
// consume; útil para inspeccionar la cola). capacity mínima 1. docroot
// vacío usa "./www".
func New(workers, capacity int, docroot string, opts ...Option) *Pool {
	if workers < 0 {
		workers = 0
	}
	if capacity < 1 {
		capacity = 1
	}
	if docroot == "" {
		docroot = "./www"
	}
	p := &Pool{
		workers: workers,
		docroot: docroot,
		handler: handler.Serve,
		log:     zap.S().Named("pool"),
	}
	p.notEmpty = sync.NewCond(&p.mu)
	p.notFull = sync.NewCond(&p.mu)
	for _, o := range opts {
		o(p)
	}
	if p.sched == nil {
		p.sched = sched.NewFIFO(capacity)
	}
	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
	p.log.Infow("pool created", "workers", workers, "capacity", p.sched.Cap(), "docroot", docroot)
	return p
}

// Submit transfiere el job al pool. Bloquea en notFull mientras el
// scheduler esté lleno y no haya shutdown. Transferencia at-most-once:
// con nil el pool es dueño de la conexión; con error la conserva el caller.
func (p *Pool) Submit(job sched.Job) error {
	p.mu.Lock()
	for {
		if p.shutdown {
			p.mu.Unlock()
			return ErrShuttingDown
		}
		if err := p.sched.Push(job); err == nil {
			if p.hooks.OnSubmit != nil {
				p.hooks.OnSubmit(job.EstCost)
			}
			p.notEmpty.Signal()
			p.mu.Unlock()
			return nil
		}
		// lleno: esperar espacio (los despertares espurios re-evalúan el predicado)
		p.notFull.Wait()
	}
}

// SubmitConn encola una conexión sin estimación (costo 0).
func (p *Pool) SubmitConn(conn net.Conn) error {
	return p.Submit(sched.Job{Conn: conn, ArrivalMS: sched.NowMS()})
}

// SetScheduler reemplaza la política en caliente. Drena los jobs
// residentes de la vieja hacia la nueva (no se pierde trabajo admitido) y
// destruye la referencia vieja. Falla atómicamente con ErrCapacityTooSmall
// si la nueva no puede alojar a los residentes.
func (p *Pool) SetScheduler(next sched.Scheduler) error {
	if next == nil {
		return errors.New("nil scheduler")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if next.Cap() < p.sched.Len() {
		return ErrCapacityTooSmall
	}
	moved := 0
	for {
		j, ok := p.sched.Pop()
		if !ok {
			break
		}
		// no puede fallar: la capacidad se verificó arriba
		_ = next.Push(j)
		moved++
	}
	p.sched = next
	// el orden relativo pudo cambiar y la capacidad pudo crecer:
	// despertar a consumidores y productores para re-evaluar
	p.notEmpty.Broadcast()
	p.notFull.Broadcast()
	p.log.Infow("scheduler swapped", "moved", moved, "capacity", next.Cap())
	return nil
}

// QueueLen devuelve la cantidad de jobs residentes en la cola.
func (p *Pool) QueueLen() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sched.Len()
}

// Docroot devuelve la raíz de documentos del pool.
func (p *Pool) Docroot() string { return p.docroot }

// Close marca el shutdown, despierta a todos y espera a los workers.
// Los workers drenan la cola a través del handler antes de salir: el
// trabajo ya admitido es el contrato observable con los clientes y no se
// descarta. Idempotente.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.shutdown {
		p.mu.Unlock()
		p.wg.Wait()
		return
	}
	p.shutdown = true
	p.notEmpty.Broadcast()
	// también a los submitters bloqueados, para que retornen ErrShuttingDown
	p.notFull.Broadcast()
	p.mu.Unlock()

	p.wg.Wait()

	// pools sin workers: nadie drenó; cerrar las conexiones residuales para
	// que tras Close el conteo residual sea cero
	p.mu.Lock()
	closed := 0
	for {
		j, ok := p.sched.Pop()
		if !ok {
			break
		}
		if j.Conn != nil {
			j.Conn.Close()
		}
		closed++
	}
	p.mu.Unlock()
	if closed > 0 {
		p.log.Warnw("residual jobs closed without handling", "count", closed)
	}
	p.log.Info("pool closed")
}

// worker: bucle principal de cada hilo consumidor. Pop bajo el mutex,
// señal de notFull apenas hay espacio, handler con el mutex liberado,
// cierre único de la conexión, y de vuelta. Con shutdown activo sigue
// drenando hasta vaciar y recién entonces sale.
func (p *Pool) worker(id int) {
	defer p.wg.Done()
	p.mu.Lock()
	for {
		if job, ok := p.sched.Pop(); ok {
			if p.hooks.OnPop != nil {
				p.hooks.OnPop(job.EstCost)
			}
			// hay espacio: desbloquear productores antes de atender
			p.notFull.Signal()
			p.mu.Unlock()

			p.handler(job.Conn, p.docroot)
			job.Conn.Close()

			p.mu.Lock()
			continue
		}
		if p.shutdown {
			break
		}
		p.notEmpty.Wait()
	}
	p.mu.Unlock()
	p.log.Debugw("worker exit", "worker", id)
}
