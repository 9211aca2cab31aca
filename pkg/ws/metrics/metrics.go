// Package metrics exports Prometheus metrics of ws clients.
package metrics

import (
	"strconv"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/LLIEPJIOK/service-mesh/wsp/pkg/ws"
)

// Collector counts events of every attached client. It also reports the
// current number of pending requests, read on each scrape.
type Collector struct {
	sent      prometheus.Counter
	sentBytes prometheus.Counter
	received  *prometheus.CounterVec
	responses prometheus.Counter
	events    *prometheus.CounterVec
	closes    *prometheus.CounterVec
	errors    prometheus.Counter

	pending *prometheus.Desc

	mu      sync.Mutex
	clients map[*ws.Client]struct{}
}

var _ prometheus.Collector = (*Collector)(nil)

// New creates a collector and registers it in reg.
func New(reg prometheus.Registerer, namespace string) (*Collector, error) {
	c := &Collector{
		sent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sent_messages_total",
			Help:      "Messages written to the transport",
		}),
		sentBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sent_bytes_total",
			Help:      "Payload bytes written to the transport",
		}),
		received: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "received_messages_total",
			Help:      "Messages read from the transport",
		}, []string{"type"}),
		responses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "responses_total",
			Help:      "Unpacked messages carrying a request id",
		}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connection_events_total",
			Help:      "Connection open and close events",
		}, []string{"event"}),
		closes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "close_codes_total",
			Help:      "Close events by close code",
		}, []string{"code"}),
		errors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transport_errors_total",
			Help:      "Errors reported by the transport",
		}),
		pending: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "pending_requests"),
			"Requests waiting for a response",
			nil, nil,
		),
		clients: make(map[*ws.Client]struct{}),
	}

	if err := reg.Register(c); err != nil {
		return nil, err
	}

	return c, nil
}

// Attach subscribes to client events. The returned function unsubscribes.
func (c *Collector) Attach(client *ws.Client) (detach func()) {
	c.mu.Lock()
	c.clients[client] = struct{}{}
	c.mu.Unlock()

	removers := []func(){
		client.OnSend().AddListener(func(data []byte) {
			c.sent.Inc()
			c.sentBytes.Add(float64(len(data)))
		}),
		client.OnMessage().AddListener(func(ev ws.MessageEvent) {
			c.received.WithLabelValues(ev.Type.String()).Inc()
		}),
		client.OnResponse().AddListener(func(ws.Response) {
			c.responses.Inc()
		}),
		client.OnOpen().AddListener(func(ws.OpenEvent) {
			c.events.WithLabelValues("open").Inc()
		}),
		client.OnClose().AddListener(func(ev ws.CloseEvent) {
			c.events.WithLabelValues("close").Inc()
			c.closes.WithLabelValues(strconv.Itoa(ev.Code)).Inc()
		}),
		client.OnError().AddListener(func(error) {
			c.errors.Inc()
		}),
	}

	var once sync.Once

	return func() {
		once.Do(func() {
			for _, remove := range removers {
				remove()
			}

			c.mu.Lock()
			delete(c.clients, client)
			c.mu.Unlock()
		})
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	c.sent.Describe(ch)
	c.sentBytes.Describe(ch)
	c.received.Describe(ch)
	c.responses.Describe(ch)
	c.events.Describe(ch)
	c.closes.Describe(ch)
	c.errors.Describe(ch)
	ch <- c.pending
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	c.sent.Collect(ch)
	c.sentBytes.Collect(ch)
	c.received.Collect(ch)
	c.responses.Collect(ch)
	c.events.Collect(ch)
	c.closes.Collect(ch)
	c.errors.Collect(ch)

	c.mu.Lock()
	var pending int
	for client := range c.clients {
		pending += client.PendingRequests()
	}
	c.mu.Unlock()

	ch <- prometheus.MustNewConstMetric(c.pending, prometheus.GaugeValue, float64(pending))
}
