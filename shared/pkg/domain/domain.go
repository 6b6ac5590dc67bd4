package domain

import (
	"fmt"
	"strings"
)

// Channel defines the delivery medium of a notification
type Channel string

const (
	ChannelEmail   Channel = "email"
	ChannelSMS     Channel = "sms"
	ChannelPush    Channel = "push"
	ChannelWebhook Channel = "webhook"
	ChannelInApp   Channel = "inApp"
)

// Channels lists every supported channel in a stable order.
var Channels = []Channel{ChannelEmail, ChannelSMS, ChannelPush, ChannelWebhook, ChannelInApp}

// ParseChannel accepts channel tags case-insensitively ("EMAIL", "in_app", "inapp" ...).
func ParseChannel(s string) (Channel, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "email":
		return ChannelEmail, nil
	case "sms":
		return ChannelSMS, nil
	case "push":
		return ChannelPush, nil
	case "webhook":
		return ChannelWebhook, nil
	case "inapp", "in_app", "in-app":
		return ChannelInApp, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedChannel, s)
}

func (c Channel) Valid() bool {
	for _, known := range Channels {
		if c == known {
			return true
		}
	}
	return false
}

func (c Channel) String() string { return string(c) }

// Status is the lifecycle state of a notification
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusSent       Status = "sent"
	StatusDelivered  Status = "delivered"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

// Statuses lists every lifecycle state in lifecycle order.
var Statuses = []Status{StatusPending, StatusProcessing, StatusSent, StatusDelivered, StatusFailed, StatusCancelled}

func ParseStatus(s string) (Status, error) {
	st := Status(strings.ToLower(strings.TrimSpace(s)))
	if st == "canceled" {
		st = StatusCancelled
	}
	if !st.Valid() {
		return "", fmt.Errorf("%w: unknown status %q", ErrInvalidFormat, s)
	}
	return st, nil
}

func (s Status) Valid() bool {
	for _, known := range Statuses {
		if s == known {
			return true
		}
	}
	return false
}

// Terminal reports whether no further transition except Retry (from Failed) is possible.
func (s Status) Terminal() bool {
	return s == StatusDelivered || s == StatusCancelled || s == StatusFailed
}

func (s Status) String() string { return string(s) }

// Priority is a hint for downstream queueing; the core does not enforce it.
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityNormal   Priority = "normal"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// ParsePriority maps an empty string to PriorityNormal.
func ParsePriority(s string) (Priority, error) {
	switch p := Priority(strings.ToLower(strings.TrimSpace(s))); p {
	case "":
		return PriorityNormal, nil
	case PriorityLow, PriorityNormal, PriorityHigh, PriorityCritical:
		return p, nil
	}
	return "", fmt.Errorf("%w: unknown priority %q", ErrInvalidFormat, s)
}

func (p Priority) String() string { return string(p) }
