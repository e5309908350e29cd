package adapter

import (
	"context"
	"net/url"
	"regexp"
	"strings"

	"github.com/pkg/errors"

	"verbapost/internal/pkg/httpclient"
	"verbapost/internal/service/order/domain"
	"verbapost/internal/service/order/domain/port"
)

const geocodioService = "geocodio"

// capitolAddress 是立法者地址无法解析时的兜底地址
var capitolAddress = domain.Address{
	Street: "United States Capitol",
	City:   "Washington",
	State:  "DC",
	Zip:    "20510",
}

// 例如 "2185 Rayburn House Office Building Washington DC 20515-4206"
var legislatorAddress = regexp.MustCompile(`^(.+?),?\s+(Washington),?\s+(DC)\s+(\d{5})(?:-\d{4})?$`)

// GeocodioDirectoryAdapter 是 port.RepresentativeDirectory 的 Geocodio 实现，
// 通过 congressional district 字段找到寄件地址对应的参议员与众议员。
type GeocodioDirectoryAdapter struct {
	client  *httpclient.Client
	baseURL string
	apiKey  string
}

func NewGeocodioDirectoryAdapter(client *httpclient.Client, baseURL, apiKey string) *GeocodioDirectoryAdapter {
	return &GeocodioDirectoryAdapter{client: client, baseURL: strings.TrimSuffix(baseURL, "/"), apiKey: apiKey}
}

type geocodioResponse struct {
	Results []struct {
		Fields struct {
			CongressionalDistricts []struct {
				CurrentLegislators []struct {
					Type string `json:"type"`
					Bio  struct {
						FirstName string `json:"first_name"`
						LastName  string `json:"last_name"`
					} `json:"bio"`
					Contact struct {
						Address string `json:"address"`
					} `json:"contact"`
				} `json:"current_legislators"`
			} `json:"congressional_districts"`
		} `json:"fields"`
	} `json:"results"`
}

func (a *GeocodioDirectoryAdapter) Lookup(ctx context.Context, sender domain.Address) ([]port.Representative, error) {
	q := url.Values{}
	q.Set("q", strings.Join([]string{sender.Street, sender.City, sender.State, sender.Zip}, ", "))
	q.Set("fields", "cd")
	q.Set("api_key", a.apiKey)

	var resp geocodioResponse
	if err := a.client.GetJSON(ctx, geocodioService, a.baseURL+"/geocode?"+q.Encode(), nil, &resp); err != nil {
		return nil, errors.Wrap(err, "geocode sender address")
	}
	if len(resp.Results) == 0 {
		return nil, nil
	}

	var reps []port.Representative
	for _, district := range resp.Results[0].Fields.CongressionalDistricts {
		for _, l := range district.CurrentLegislators {
			name := strings.TrimSpace(l.Bio.FirstName + " " + l.Bio.LastName)
			if name == "" {
				continue
			}
			title := "U.S. Representative"
			if l.Type == "senator" {
				title = "U.S. Senator"
			}
			addr := parseLegislatorAddress(l.Contact.Address)
			addr.Name = title + " " + name
			reps = append(reps, port.Representative{Name: name, Title: title, Address: addr})
		}
	}
	return reps, nil
}

func parseLegislatorAddress(raw string) domain.Address {
	m := legislatorAddress.FindStringSubmatch(strings.TrimSpace(raw))
	if m == nil {
		return capitolAddress
	}
	return domain.Address{Street: strings.TrimSpace(m[1]), City: m[2], State: m[3], Zip: m[4]}
}
