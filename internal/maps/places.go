// Package maps provides place search and geocoding for the request screen.
package maps

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/example/ride-passenger/internal/apperrors"
	"github.com/example/ride-passenger/internal/models"
)

const DefaultEndpoint = "https://maps.googleapis.com/maps/api"

// Defaults describes the initial map viewport.
type Defaults struct {
	Center  models.Coord `json:"center"`
	Zoom    int          `json:"zoom"`
	MinZoom int          `json:"min_zoom"`
	MaxZoom int          `json:"max_zoom"`
}

func DefaultViewport() Defaults {
	return Defaults{Center: models.Coord{Lat: -6.2088, Lng: 106.8456}, Zoom: 13, MinZoom: 10, MaxZoom: 18}
}

type Prediction struct {
	PlaceID     string `json:"place_id"`
	Description string `json:"description"`
}

type Place struct {
	Address string       `json:"address"`
	Coord   models.Coord `json:"coord"`
}

// Places is a client for place autocomplete and geocoding restricted to
// one country.
type Places struct {
	endpoint string
	key      string
	country  string
	http     *http.Client
}

func NewPlaces(endpoint, key, country string, timeout time.Duration) *Places {
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Places{
		endpoint: strings.TrimRight(endpoint, "/"),
		key:      key,
		country:  country,
		http:     &http.Client{Timeout: timeout},
	}
}

func (p *Places) get(ctx context.Context, path string, q url.Values, out any) error {
	q.Set("key", p.key)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.endpoint+path+"?"+q.Encode(), nil)
	if err != nil {
		return err
	}
	resp, err := p.http.Do(req)
	if err != nil {
		return apperrors.Network("MAPS_UNAVAILABLE", apperrors.MsgMapsUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return apperrors.Network("MAPS_UNAVAILABLE", apperrors.MsgMapsUnavailable, fmt.Errorf("maps status %d", resp.StatusCode))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// Autocomplete returns place predictions for a partial address.
func (p *Places) Autocomplete(ctx context.Context, input string) ([]Prediction, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return []Prediction{}, nil
	}
	q := url.Values{}
	q.Set("input", input)
	if p.country != "" {
		q.Set("components", "country:"+p.country)
	}
	var body struct {
		Status      string       `json:"status"`
		Predictions []Prediction `json:"predictions"`
	}
	if err := p.get(ctx, "/place/autocomplete/json", q, &body); err != nil {
		return nil, err
	}
	switch body.Status {
	case "OK":
		return body.Predictions, nil
	case "ZERO_RESULTS":
		return []Prediction{}, nil
	}
	return nil, apperrors.Network("MAPS_UNAVAILABLE", apperrors.MsgMapsUnavailable, fmt.Errorf("autocomplete status %s", body.Status))
}

// Geocode resolves a place id, or a free-form address when placeID is
// empty, to coordinates.
func (p *Places) Geocode(ctx context.Context, placeID, address string) (Place, error) {
	q := url.Values{}
	if placeID != "" {
		q.Set("place_id", placeID)
	} else {
		q.Set("address", address)
		if p.country != "" {
			q.Set("components", "country:"+p.country)
		}
	}
	var body struct {
		Status  string `json:"status"`
		Results []struct {
			FormattedAddress string `json:"formatted_address"`
			Geometry         struct {
				Location models.Coord `json:"location"`
			} `json:"geometry"`
		} `json:"results"`
	}
	if err := p.get(ctx, "/geocode/json", q, &body); err != nil {
		return Place{}, err
	}
	if body.Status != "OK" || len(body.Results) == 0 {
		return Place{}, apperrors.Validation("GEOCODING_FAILED", apperrors.MsgGeocodingFailed, fmt.Errorf("geocode status %s", body.Status))
	}
	r := body.Results[0]
	return Place{Address: r.FormattedAddress, Coord: r.Geometry.Location}, nil
}
