package domain

import (
	"net/url"
	"regexp"
	"strings"
	"time"
)

var (
	emailPattern = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)
	phonePattern = regexp.MustCompile(`^\+?[1-9]\d{6,14}$`)
	phoneChars   = regexp.MustCompile(`^[+\d\s().-]+$`)
)

// EmailAddress is a trimmed, lower-cased, syntactically valid address.
type EmailAddress struct{ value string }

func NewEmailAddress(raw string) (EmailAddress, error) {
	v := strings.ToLower(strings.TrimSpace(raw))
	if v == "" {
		return EmailAddress{}, fieldErr("email", ErrEmptyValue)
	}
	if !emailPattern.MatchString(v) {
		return EmailAddress{}, fieldErr("email", ErrInvalidFormat)
	}
	return EmailAddress{value: v}, nil
}

func (e EmailAddress) String() string { return e.value }

// PhoneNumber keeps only digits and '+'.
type PhoneNumber struct{ value string }

func NewPhoneNumber(raw string) (PhoneNumber, error) {
	if strings.TrimSpace(raw) == "" {
		return PhoneNumber{}, fieldErr("phone", ErrEmptyValue)
	}
	var b strings.Builder
	for _, r := range raw {
		if r == '+' || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	v := b.String()
	if !phonePattern.MatchString(v) {
		return PhoneNumber{}, fieldErr("phone", ErrInvalidFormat)
	}
	return PhoneNumber{value: v}, nil
}

func (p PhoneNumber) String() string { return p.value }

// NormalizeAddress returns raw in the form a Recipient stores it, without
// knowing the channel: email addresses lower-cased, phone numbers reduced to
// digits and '+'. URLs, device tokens and user ids are only trimmed.
func NormalizeAddress(raw string) string {
	v := strings.TrimSpace(raw)
	if strings.Contains(v, "://") {
		return v
	}
	if email, err := NewEmailAddress(v); err == nil {
		return email.String()
	}
	if phoneChars.MatchString(v) {
		if phone, err := NewPhoneNumber(v); err == nil {
			return phone.String()
		}
	}
	return v
}

// Recipient is a channel plus a channel-specific address. Comparable with ==.
type Recipient struct {
	channel Channel
	address string
	name    string
}

// NewRecipient validates address for the given channel.
func NewRecipient(channel Channel, address, name string) (Recipient, error) {
	switch channel {
	case ChannelEmail:
		email, err := NewEmailAddress(address)
		if err != nil {
			return Recipient{}, err
		}
		return EmailRecipient(email, name), nil
	case ChannelSMS:
		phone, err := NewPhoneNumber(address)
		if err != nil {
			return Recipient{}, err
		}
		return SMSRecipient(phone, name), nil
	case ChannelPush:
		return PushRecipient(address, name)
	case ChannelWebhook:
		return WebhookRecipient(address, name)
	case ChannelInApp:
		return InAppRecipient(address, name)
	}
	return Recipient{}, ErrUnsupportedChannel
}

func EmailRecipient(email EmailAddress, name string) Recipient {
	return Recipient{channel: ChannelEmail, address: email.String(), name: strings.TrimSpace(name)}
}

func SMSRecipient(phone PhoneNumber, name string) Recipient {
	return Recipient{channel: ChannelSMS, address: phone.String(), name: strings.TrimSpace(name)}
}

func PushRecipient(deviceToken, name string) (Recipient, error) {
	return opaqueRecipient(ChannelPush, "deviceToken", deviceToken, name)
}

func InAppRecipient(userID, name string) (Recipient, error) {
	return opaqueRecipient(ChannelInApp, "userId", userID, name)
}

func WebhookRecipient(rawURL, name string) (Recipient, error) {
	v := strings.TrimSpace(rawURL)
	if v == "" {
		return Recipient{}, fieldErr("url", ErrEmptyValue)
	}
	u, err := url.Parse(v)
	if err != nil || !u.IsAbs() || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return Recipient{}, fieldErr("url", ErrInvalidFormat)
	}
	return Recipient{channel: ChannelWebhook, address: v, name: strings.TrimSpace(name)}, nil
}

func opaqueRecipient(ch Channel, field, address, name string) (Recipient, error) {
	v := strings.TrimSpace(address)
	if v == "" {
		return Recipient{}, fieldErr(field, ErrEmptyValue)
	}
	return Recipient{channel: ch, address: v, name: strings.TrimSpace(name)}, nil
}

func (r Recipient) Channel() Channel { return r.channel }
func (r Recipient) Address() string { return r.address }
func (r Recipient) Name() string { return r.name }
func (r Recipient) IsZero() bool { return r.channel == "" }

func (r Recipient) Equal(o Recipient) bool { return r == o }

// Content is a message body with an optional subject.
type Content struct {
	subject string
	body    string
	isHTML  bool
}

func NewContent(subject, body string, isHTML bool) (Content, error) {
	if strings.TrimSpace(body) == "" {
		return Content{}, fieldErr("body", ErrEmptyValue)
	}
	return Content{subject: strings.TrimSpace(subject), body: body, isHTML: isHTML}, nil
}

func (c Content) Subject() string { return c.subject }
func (c Content) Body() string { return c.body }
func (c Content) IsHTML() bool { return c.isHTML }

// Instant is an optional point in time. The zero value is unset.
type Instant struct {
	at  time.Time
	set bool
}

func InstantOf(t time.Time) Instant { return Instant{at: t.UTC(), set: true} }

func InstantFromPtr(t *time.Time) Instant {
	if t == nil {
		return Instant{}
	}
	return InstantOf(*t)
}

func (i Instant) IsSet() bool { return i.set }

func (i Instant) Time() (time.Time, bool) { return i.at, i.set }

func (i Instant) Ptr() *time.Time {
	if !i.set {
		return nil
	}
	t := i.at
	return &t
}

// setOnce records t only if no value was recorded before.
func (i *Instant) setOnce(t time.Time) {
	if i.set {
		return
	}
	*i = InstantOf(t)
}
