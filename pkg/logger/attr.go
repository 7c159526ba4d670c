package logger

import (
	"log/slog"
	"time"
)

// Error creates an attribute for a single error under the key "error".
// If err is nil, it returns an empty Attr.
func Error(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.Any("error", err)
}

// ProfileID records the subscriber profile under the key "profile_id".
func ProfileID(id string) slog.Attr {
	if id == "" {
		return slog.Attr{}
	}
	return slog.String("profile_id", id)
}

// SubscriptionID records the subscription identifier under the key "subscription_id".
// If id is nil, it returns an empty Attr.
func SubscriptionID(id any) slog.Attr {
	if id == nil {
		return slog.Attr{}
	}
	return slog.Any("subscription_id", id)
}

// PackageID records the package identifier under the key "package_id".
func PackageID(id any) slog.Attr {
	if id == nil {
		return slog.Attr{}
	}
	return slog.Any("package_id", id)
}

// Role records a caller role under the key "role".
func Role(role string) slog.Attr {
	return slog.String("role", role)
}

// RequestID records the request identifier under the key "request_id".
func RequestID(id string) slog.Attr {
	if id == "" {
		return slog.Attr{}
	}
	return slog.String("request_id", id)
}

// Action records a lifecycle action selector.
func Action(name string) slog.Attr {
	return slog.String("action", name)
}

// EventType records a gateway or domain event type.
func EventType(eventType string) slog.Attr {
	return slog.String("event_type", eventType)
}

// Reference records a gateway transaction reference.
func Reference(ref string) slog.Attr {
	if ref == "" {
		return slog.Attr{}
	}
	return slog.String("reference", ref)
}

func Duration(d time.Duration) slog.Attr {
	return slog.Duration("duration", d)
}

// Component records the component name under the key "component".
func Component(name string) slog.Attr {
	return slog.String("component", name)
}
