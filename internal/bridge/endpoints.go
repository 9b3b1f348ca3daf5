package bridge

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/fluxion/voice-agent/internal/booking"
	"github.com/fluxion/voice-agent/internal/domain"
	"github.com/fluxion/voice-agent/internal/entities"
)

type searchResponse struct {
	Clienti   []domain.Candidate `json:"clienti"`
	Ambiguo   bool               `json:"ambiguo"`
	Messaggio string             `json:"messaggio"`
}

// SearchCustomers looks customers up by name, optionally narrowed by birth
// date (YYYY-MM-DD).
func (c *Client) SearchCustomers(ctx context.Context, query, birthDate string) ([]domain.Candidate, error) {
	q := url.Values{}
	q.Set("q", query)
	if birthDate != "" {
		q.Set("data_nascita", birthDate)
	}
	var out searchResponse
	if err := c.doJSON(ctx, "clienti_search", http.MethodGet, "/api/clienti/search?"+q.Encode(), nil, &out); err != nil {
		return nil, fmt.Errorf("search customers: %w", err)
	}
	return out.Clienti, nil
}

type createCustomerRequest struct {
	Name      string `json:"nome"`
	Surname   string `json:"cognome"`
	Phone     string `json:"telefono"`
	BirthDate string `json:"data_nascita,omitempty"`
}

type createCustomerResponse struct {
	Success bool              `json:"success"`
	ID      string            `json:"id"`
	Cliente *domain.Candidate `json:"cliente"`
	Message string            `json:"message"`
}

// CreateCustomer registers a first-time caller.
func (c *Client) CreateCustomer(ctx context.Context, nc booking.NewCustomer) (domain.Candidate, error) {
	req := createCustomerRequest{Name: nc.Name, Surname: nc.Surname, Phone: nc.Phone, BirthDate: nc.BirthDate}
	var out createCustomerResponse
	if err := c.doJSON(ctx, "clienti_create", http.MethodPost, "/api/clienti/create", req, &out); err != nil {
		return domain.Candidate{}, fmt.Errorf("create customer: %w", err)
	}
	if !out.Success {
		return domain.Candidate{}, fmt.Errorf("create customer: %w", &RejectedError{Message: out.Message})
	}
	cand := domain.Candidate{ID: out.ID, Name: nc.Name, Surname: nc.Surname, Phone: nc.Phone, BirthDate: nc.BirthDate}
	if out.Cliente != nil {
		cand = *out.Cliente
		if cand.ID == "" {
			cand.ID = out.ID
		}
	}
	if cand.ID == "" {
		return domain.Candidate{}, fmt.Errorf("create customer: %w", &RejectedError{Message: "missing id"})
	}
	return cand, nil
}

type operatorWire struct {
	ID          string   `json:"id"`
	Name        string   `json:"nome"`
	Surname     string   `json:"cognome"`
	Aliases     []string `json:"alias"`
	Gender      string   `json:"genere"`
	Description string   `json:"descrizione_positiva"`
}

// Operators lists the staff that can be requested by name.
func (c *Client) Operators(ctx context.Context) ([]entities.Operator, error) {
	var out struct {
		Operatori []operatorWire `json:"operatori"`
	}
	if err := c.doJSON(ctx, "operatori_list", http.MethodGet, "/api/operatori/list", nil, &out); err != nil {
		return nil, fmt.Errorf("list operators: %w", err)
	}
	ops := make([]entities.Operator, 0, len(out.Operatori))
	for _, o := range out.Operatori {
		ops = append(ops, entities.Operator{
			ID:        o.ID,
			FirstName: o.Name,
			LastName:  o.Surname,
			Aliases:   o.Aliases,
			Gender:    o.Gender,
		})
	}
	return ops, nil
}

type operatorAvailabilityRequest struct {
	OperatorID string `json:"operatore_id"`
	Date       string `json:"data"`
	Time       string `json:"ora,omitempty"`
}

type operatorAvailabilityResponse struct {
	Available            bool     `json:"disponibile"`
	Slots                []string `json:"slots"`
	AlternativeOperators []string `json:"alternative_operators"`
}

// OperatorAvailability asks whether an operator works at date (and hhmm when
// given).
func (c *Client) OperatorAvailability(ctx context.Context, operatorID, date, hhmm string) (bool, []string, []string, error) {
	req := operatorAvailabilityRequest{OperatorID: operatorID, Date: date, Time: hhmm}
	var out operatorAvailabilityResponse
	if err := c.doJSON(ctx, "operatori_disponibilita", http.MethodPost, "/api/operatori/disponibilita", req, &out); err != nil {
		return false, nil, nil, fmt.Errorf("operator availability: %w", err)
	}
	return out.Available, out.Slots, out.AlternativeOperators, nil
}

// BookedSlots returns the "HH:MM" start times already taken on date.
func (c *Client) BookedSlots(ctx context.Context, date, operatorID string) ([]string, error) {
	q := url.Values{}
	q.Set("data", date)
	if operatorID != "" {
		q.Set("operatore_id", operatorID)
	}
	var out struct {
		Occupati []string `json:"occupati"`
		Slots    []string `json:"slots"`
	}
	if err := c.doJSON(ctx, "appuntamenti_occupati", http.MethodGet, "/api/appuntamenti/occupati?"+q.Encode(), nil, &out); err != nil {
		return nil, fmt.Errorf("booked slots: %w", err)
	}
	if len(out.Occupati) > 0 {
		return out.Occupati, nil
	}
	return out.Slots, nil
}

type resultResponse struct {
	Success bool   `json:"success"`
	ID      string `json:"id"`
	Message string `json:"message"`
}

// CreateAppointment books a slot.
func (c *Client) CreateAppointment(ctx context.Context, req booking.AppointmentRequest) (booking.AppointmentResult, error) {
	var out resultResponse
	if err := c.doJSON(ctx, "appuntamenti_create", http.MethodPost, "/api/appuntamenti/create", req, &out); err != nil {
		return booking.AppointmentResult{}, fmt.Errorf("create appointment: %w", err)
	}
	if !out.Success {
		return booking.AppointmentResult{}, fmt.Errorf("create appointment: %w", &RejectedError{Message: out.Message})
	}
	return booking.AppointmentResult{ID: out.ID, Message: out.Message}, nil
}

// AddToWaitlist queues the customer and returns the entry id.
func (c *Client) AddToWaitlist(ctx context.Context, req booking.WaitlistRequest) (string, error) {
	var out resultResponse
	if err := c.doJSON(ctx, "waitlist_add", http.MethodPost, "/api/waitlist/add", req, &out); err != nil {
		return "", fmt.Errorf("add to waitlist: %w", err)
	}
	if !out.Success {
		return "", fmt.Errorf("add to waitlist: %w", &RejectedError{Message: out.Message})
	}
	return out.ID, nil
}

// Settings returns the dynamic template variables, with values rendered as
// strings and keys upper-cased.
func (c *Client) Settings(ctx context.Context) (map[string]string, error) {
	var raw map[string]any
	if err := c.doJSON(ctx, "faq_settings", http.MethodGet, "/api/faq/settings", nil, &raw); err != nil {
		return nil, fmt.Errorf("settings: %w", err)
	}
	if nested, ok := raw["settings"].(map[string]any); ok {
		raw = nested
	}
	out := make(map[string]string, len(raw))
	for k, v := range raw {
		switch v := v.(type) {
		case nil:
			continue
		case string:
			out[strings.ToUpper(k)] = v
		case float64:
			out[strings.ToUpper(k)] = strings.TrimSuffix(strings.TrimRight(fmt.Sprintf("%.2f", v), "0"), ".")
		default:
			out[strings.ToUpper(k)] = fmt.Sprint(v)
		}
	}
	return out, nil
}
