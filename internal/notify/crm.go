package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/wolfman30/booking-reconciler/internal/bookings"
	"github.com/wolfman30/booking-reconciler/internal/normalize"
	"github.com/wolfman30/booking-reconciler/internal/outbound"
)

// CRMProfile is the customer profile pushed to the CRM lists.
type CRMProfile struct {
	Email     string `json:"email"`
	FirstName string `json:"first_name,omitempty"`
	Phone     string `json:"phone,omitempty"`
	Postcode  string `json:"postcode,omitempty"`
	Quote     string `json:"quote,omitempty"`
}

// CRM syncs new customers to the marketing CRM.
type CRM interface {
	// Exists reports whether a profile with email is already known.
	Exists(ctx context.Context, email string) (bool, error)
	// Create adds the profile to the list for the service category.
	Create(ctx context.Context, serviceCategory string, profile CRMProfile) error
}

// CRMClient talks to the CRM profile API over outbound.
type CRMClient struct {
	client *outbound.Client
}

// NewCRMClient creates a CRMClient.
func NewCRMClient(client *outbound.Client) *CRMClient {
	return &CRMClient{client: client}
}

func (c *CRMClient) Exists(ctx context.Context, email string) (bool, error) {
	resp, err := c.client.Do(ctx, outbound.Request{
		Method: http.MethodGet,
		Path:   "/profiles",
		Query:  url.Values{"email": []string{email}},
	})
	if err != nil {
		return false, err
	}
	switch {
	case resp.StatusCode == http.StatusNotFound:
		return false, nil
	case resp.OK():
		var body struct {
			Data []json.RawMessage `json:"data"`
		}
		if err := resp.Decode(&body); err != nil {
			return true, nil
		}
		return len(body.Data) > 0, nil
	default:
		return false, &outbound.StatusError{Client: "crm", StatusCode: resp.StatusCode, Body: string(resp.Body)}
	}
}

func (c *CRMClient) Create(ctx context.Context, serviceCategory string, profile CRMProfile) error {
	_, err := c.client.Expect(ctx, outbound.Request{
		Method: http.MethodPost,
		Path:   crmListPath(serviceCategory),
		JSON:   profile,
	})
	return err
}

// House categories go to the house list; everything else to the bond list.
func crmListPath(serviceCategory string) string {
	if strings.EqualFold(strings.TrimSpace(serviceCategory), "House Clean") {
		return "/house/new"
	}
	return "/bond/new"
}

func profileFor(rec *bookings.Record) CRMProfile {
	p := CRMProfile{
		Email:     deref(rec.Email),
		FirstName: deref(rec.FirstName),
		Phone:     deref(rec.Phone),
		Postcode:  deref(rec.Postcode),
	}
	if rec.FinalPrice != nil {
		p.Quote = normalize.CentsToDollarString(*rec.FinalPrice)
	}
	return p
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

var _ CRM = (*CRMClient)(nil)

func crmError(op string, err error) error {
	return fmt.Errorf("notify: crm %s: %w", op, err)
}
