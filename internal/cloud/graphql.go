package cloud

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/nerrad567/rinnai-bridge/internal/device"
)

// listDevicesQuery selects every field the device model consumes.
const listDevicesQuery = `query GetUserByEmail($email: String) {
  getUserByEmail(email: $email) {
    items {
      id
      email
      devices {
        items {
          id
          thing_name
          device_name
          dsn
          model
          info {
            serial_id
            domestic_temperature
            m02_outlet_temperature
            domestic_combustion
            recirculation_capable
          }
          shadow {
            recirculation_enabled
          }
        }
      }
    }
  }
}`

// GraphQLConfig locates the device query endpoint.
type GraphQLConfig struct {
	URL    string
	APIKey string
}

// GraphQLClient runs the device list query.
type GraphQLClient struct {
	cfg    GraphQLConfig
	client *http.Client
}

// NewGraphQLClient creates a query client.
func NewGraphQLClient(cfg GraphQLConfig, client *http.Client) *GraphQLClient {
	if client == nil {
		client = NewHTTPClient(DefaultTimeout)
	}
	return &GraphQLClient{cfg: cfg, client: client}
}

type graphQLRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables"`
}

type graphQLError struct {
	Message   string `json:"message"`
	ErrorType string `json:"errorType,omitempty"`
}

type listDevicesResponse struct {
	Data *struct {
		GetUserByEmail *struct {
			Items []*struct {
				Devices *struct {
					Items []*device.Attributes `json:"items"`
				} `json:"devices"`
			} `json:"items"`
		} `json:"getUserByEmail"`
	} `json:"data"`
	Errors []graphQLError `json:"errors"`
}

// ListDevicesForUser returns every device of the user with email, flattened
// across the user entries the query matches. Null entries are dropped. The
// result may be empty.
//
// A response without data.getUserByEmail.items, or holding a device without
// id or thing_name, fails with ErrMalformedResponse.
func (c *GraphQLClient) ListDevicesForUser(ctx context.Context, email, accessToken string) ([]device.Attributes, error) {
	body, err := json.Marshal(graphQLRequest{
		Query:     listDevicesQuery,
		Variables: map[string]any{"email": email},
	})
	if err != nil {
		return nil, fmt.Errorf("encoding query: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: creating request: %w", ErrTransport, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("x-api-key", c.cfg.APIKey)
	if accessToken != "" {
		req.Header.Set("Authorization", accessToken)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTransport, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, fmt.Errorf("%w: device query status %d: %s", ErrAuthentication, resp.StatusCode, excerpt(resp.Body))
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return nil, fmt.Errorf("%w: device query status %d: %s", ErrTransport, resp.StatusCode, excerpt(resp.Body))
	}

	var out listDevicesResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedResponse, err)
	}
	return flattenDevices(out)
}

func flattenDevices(out listDevicesResponse) ([]device.Attributes, error) {
	if out.Data == nil || out.Data.GetUserByEmail == nil || out.Data.GetUserByEmail.Items == nil {
		if len(out.Errors) > 0 {
			return nil, fmt.Errorf("%w: %s", ErrMalformedResponse, joinErrors(out.Errors))
		}
		return nil, fmt.Errorf("%w: missing data.getUserByEmail.items", ErrMalformedResponse)
	}

	devices := make([]device.Attributes, 0)
	for _, user := range out.Data.GetUserByEmail.Items {
		if user == nil || user.Devices == nil {
			continue
		}
		for _, d := range user.Devices.Items {
			if d == nil {
				continue
			}
			if d.ID == "" || d.ThingName == "" {
				return nil, fmt.Errorf("%w: device %q lacks id or thing_name", ErrMalformedResponse, d.DeviceName)
			}
			devices = append(devices, *d)
		}
	}
	return devices, nil
}

func joinErrors(errs []graphQLError) string {
	msgs := make([]string, 0, len(errs))
	for _, e := range errs {
		msgs = append(msgs, e.Message)
	}
	return strings.Join(msgs, "; ")
}
