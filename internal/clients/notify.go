// Package clients holds the typed collaborator clients the tool handlers
// close over: GLPI ticketing, Observium monitoring, the directory service,
// SMTP, the knowledge store and the webhook notifier. The governance core
// treats all of them as opaque; only their contracts matter to dispatch.
package clients

import (
	"bytes"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"
)

// Notifier posts notices to Slack and Teams webhooks through a background
// worker pool. Notify never blocks the caller; a full queue drops the
// notice with a log line.
type Notifier struct {
	slackURL   string
	teamsURL   string
	httpClient *http.Client
	queue      chan *notice
	logger     *log.Logger
	wg         sync.WaitGroup
}

type notice struct {
	title   string
	message string
	attempt int
}

// NewNotifier starts the worker pool. Either URL may be empty; an entirely
// unconfigured notifier silently drops everything.
func NewNotifier(slackURL, teamsURL string, workers int) *Notifier {
	if workers <= 0 {
		workers = 2
	}
	n := &Notifier{
		slackURL:   slackURL,
		teamsURL:   teamsURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		queue:      make(chan *notice, 256),
		logger:     log.New(log.Writer(), "[NOTIFY] ", log.LstdFlags),
	}
	for i := 0; i < workers; i++ {
		n.wg.Add(1)
		go n.worker()
	}
	return n
}

// Notify queues a notice for asynchronous delivery.
func (n *Notifier) Notify(title, message string) {
	if n.slackURL == "" && n.teamsURL == "" {
		return
	}
	select {
	case n.queue <- &notice{title: title, message: message, attempt: 1}:
	default:
		n.logger.Printf("queue full, dropping notice %q", title)
	}
}

func (n *Notifier) worker() {
	defer n.wg.Done()
	for msg := range n.queue {
		n.deliver(msg)
	}
}

func (n *Notifier) deliver(msg *notice) {
	if n.slackURL != "" {
		n.post(n.slackURL, map[string]any{
			"text": "*" + msg.title + "*\n" + msg.message,
		}, msg)
	}
	if n.teamsURL != "" {
		n.post(n.teamsURL, map[string]any{
			"title": msg.title,
			"text":  msg.message,
		}, msg)
	}
}

func (n *Notifier) post(url string, payload map[string]any, msg *notice) {
	body, err := json.Marshal(payload)
	if err != nil {
		n.logger.Printf("marshal notice failed: %v", err)
		return
	}

	resp, err := n.httpClient.Post(url, "application/json", bytes.NewReader(body))
	if err != nil {
		n.logger.Printf("delivery failed: %v", err)
		// Retry up to 3 times with quadratic backoff
		if msg.attempt < 3 {
			time.Sleep(time.Duration(msg.attempt*msg.attempt) * time.Second)
			msg.attempt++
			select {
			case n.queue <- msg:
			default:
			}
		}
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		n.logger.Printf("webhook returned %d for %q", resp.StatusCode, msg.title)
	}
}

// Shutdown drains the queue and stops the workers.
func (n *Notifier) Shutdown() {
	close(n.queue)
	n.wg.Wait()
}
