package subscriber

import (
    "fmt"
    "strings"
    "sync"
)

type registration struct {
    Subscriber
    template subjectTemplate
}

func (r registration) matches(subject, action string) bool {
    if r.Action != "" && !strings.EqualFold(r.Action, action) {
        return false
    }
    return r.template.Match(subject)
}

// Registry holds the subscribers a Host routes to. Subscribers are added
// explicitly at startup, before the Host starts receiving.
type Registry struct {
    mu            sync.RWMutex
    registrations []registration
    names         map[string]struct{}
}

func NewRegistry(subscribers ...Subscriber) (*Registry, error) {
    r := &Registry{names: make(map[string]struct{})}
    for _, s := range subscribers {
        if err := r.Register(s); err != nil {
            return nil, err
        }
    }
    return r, nil
}

// Register validates s and adds it to the registry.
func (r *Registry) Register(s Subscriber) error {
    if s.Name == "" {
        return ErrNameRequired
    }
    if s.Handler == nil {
        return fmt.Errorf("registering %s: %w", s.Name, ErrHandlerRequired)
    }
    template, err := compileTemplate(s.Subject)
    if err != nil {
        return fmt.Errorf("registering %s: %w", s.Name, err)
    }

    r.mu.Lock()
    defer r.mu.Unlock()

    if _, ok := r.names[s.Name]; ok {
        return fmt.Errorf("registering %s: %w", s.Name, ErrDuplicateName)
    }
    r.names[s.Name] = struct{}{}
    r.registrations = append(r.registrations, registration{Subscriber: s, template: template})
    return nil
}

// Match returns the subscribers routed to the given subject and action.
func (r *Registry) Match(subject, action string) []Subscriber {
    r.mu.RLock()
    defer r.mu.RUnlock()

    var matched []Subscriber
    for _, reg := range r.registrations {
        if reg.matches(subject, action) {
            matched = append(matched, reg.Subscriber)
        }
    }
    return matched
}

func (r *Registry) Len() int {
    r.mu.RLock()
    defer r.mu.RUnlock()
    return len(r.registrations)
}
