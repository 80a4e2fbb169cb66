// Package notify delivers operator alerts for critical findings.
package notify

import (
	"fmt"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/chainwatch/chainwatch/internal/ironlaw"
	"github.com/chainwatch/chainwatch/internal/queue"
)

// Notification is a single operator alert.
type Notification struct {
	// Title is the short alert headline
	Title string `json:"title"`
	// Message is the alert body
	Message string `json:"message"`
	// Urgent marks alerts that came from critical findings
	Urgent bool `json:"urgent"`
	// CreatedAt is when the alert was built
	CreatedAt time.Time `json:"created_at"`
}

// Sink receives notifications that pass the rate limit.
type Sink func(Notification)

// Config holds notifier configuration.
type Config struct {
	// MinInterval is the minimum spacing between alerts (default 30s)
	MinInterval time.Duration
	// Burst is how many alerts may be delivered back to back (default 3)
	Burst int
	// Sink receives alerts; defaults to stdout
	Sink Sink
	// Now overrides the clock for tests
	Now func() time.Time
}

// Notifier rate-limits and delivers operator alerts. Alerts beyond the
// limit are dropped, not queued: a flood of findings should not produce
// a flood of notifications minutes later.
type Notifier struct {
	limiter *rate.Limiter
	sink    Sink
	now     func() time.Time
}

// NewNotifier creates a notifier.
func NewNotifier(cfg Config) *Notifier {
	minInterval := cfg.MinInterval
	if minInterval <= 0 {
		minInterval = 30 * time.Second
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 3
	}
	sink := cfg.Sink
	if sink == nil {
		sink = stdoutSink
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Notifier{
		limiter: rate.NewLimiter(rate.Every(minInterval), burst),
		sink:    sink,
		now:     now,
	}
}

// Deliver sends the notification if the rate limit allows it.
// Returns false when the alert was dropped.
func (n *Notifier) Deliver(notification Notification) bool {
	if !n.limiter.AllowN(n.now(), 1) {
		return false
	}
	notification.CreatedAt = n.now()
	n.sink(notification)
	return true
}

// TaskAlert builds an alert for a newly queued critical task.
func TaskAlert(task *queue.Task) Notification {
	return Notification{
		Title:   fmt.Sprintf("Critical: %s", task.AnomalyType),
		Message: task.Prompt,
		Urgent:  true,
	}
}

// ViolationAlert builds an alert for newly detected compliance violations.
func ViolationAlert(violations []ironlaw.Violation) Notification {
	lines := make([]string, 0, len(violations))
	for _, v := range violations {
		lines = append(lines, fmt.Sprintf("law %d (%s): %s", v.Law, v.Type, v.Message))
	}
	return Notification{
		Title:   fmt.Sprintf("Compliance: %d violation(s)", len(violations)),
		Message: strings.Join(lines, "\n"),
		Urgent:  true,
	}
}

func stdoutSink(n Notification) {
	marker := "NOTICE"
	if n.Urgent {
		marker = "ALERT"
	}
	fmt.Printf("[%s] %s: %s\n", marker, n.Title, n.Message)
}
