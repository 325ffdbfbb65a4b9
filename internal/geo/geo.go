// Package geo looks up real street addresses for a city using the public
// OpenStreetMap services: Nominatim resolves the city to a bounding box and
// Overpass lists the address nodes inside it.
package geo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/JonMunkholm/membergen/internal/core"
	"github.com/JonMunkholm/membergen/internal/logging"
)

const (
	DefaultNominatimURL = "https://nominatim.openstreetmap.org"
	DefaultOverpassURL  = "https://overpass-api.de/api/interpreter"
	DefaultUserAgent    = "membergen/1.0"
	DefaultTimeout      = 30 * time.Second

	// maxCandidates caps how many address nodes Overpass returns.
	maxCandidates = 2000
)

var (
	ErrCityNotFound = errors.New("city not found")
	ErrNoStreetData = errors.New("no street data found")
)

// Config configures a Client. Zero values select the defaults.
type Config struct {
	NominatimURL string
	OverpassURL  string
	UserAgent    string
	Timeout      time.Duration
}

// Client implements core.AddressSource.
type Client struct {
	nominatimURL string
	overpassURL  string
	userAgent    string
	http         *http.Client

	mu  sync.Mutex
	rnd *rand.Rand
}

var _ core.AddressSource = (*Client)(nil)

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithRand replaces the random source used to sample addresses.
func WithRand(r *rand.Rand) Option {
	return func(c *Client) { c.rnd = r }
}

// New creates a Client.
func New(cfg Config, opts ...Option) *Client {
	c := &Client{
		nominatimURL: strings.TrimRight(orDefault(cfg.NominatimURL, DefaultNominatimURL), "/"),
		overpassURL:  orDefault(cfg.OverpassURL, DefaultOverpassURL),
		userAgent:    orDefault(cfg.UserAgent, DefaultUserAgent),
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	c.http = &http.Client{Timeout: timeout}
	c.rnd = rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0x9e3779b97f4a7c15))

	for _, opt := range opts {
		opt(c)
	}
	return c
}

func orDefault(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}

// Addresses returns count addresses in the city. Distinct addresses are
// preferred; when the city has fewer than count, some repeat.
func (c *Client) Addresses(ctx context.Context, city, country string, count int) ([]core.Address, error) {
	if count <= 0 {
		return nil, nil
	}
	logger := logging.WithFields(ctx, "city", city, "country", country)

	box, err := c.boundingBox(ctx, city, country)
	if err != nil {
		return nil, err
	}

	elements, err := c.addressNodes(ctx, box)
	if err != nil {
		return nil, err
	}

	candidates := collect(elements, box, city, country)
	if len(candidates) == 0 {
		return nil, fmt.Errorf("%s, %s: %w", city, country, ErrNoStreetData)
	}
	logger.Debug("address candidates found", "candidates", len(candidates), "requested", count)

	return c.sample(candidates, count), nil
}

// BoundingBox is a south/north/west/east rectangle in degrees.
type BoundingBox struct {
	South, North, West, East float64
}

// Contains reports whether the point lies inside the box, edges included.
func (b BoundingBox) Contains(lat, lon float64) bool {
	return lat >= b.South && lat <= b.North && lon >= b.West && lon <= b.East
}

type nominatimPlace struct {
	BoundingBox []string `json:"boundingbox"`
	DisplayName string   `json:"display_name"`
}

func (c *Client) boundingBox(ctx context.Context, city, country string) (BoundingBox, error) {
	q := url.Values{}
	q.Set("format", "jsonv2")
	q.Set("city", city)
	q.Set("country", country)
	q.Set("limit", "1")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.nominatimURL+"/search?"+q.Encode(), nil)
	if err != nil {
		return BoundingBox{}, fmt.Errorf("build nominatim request: %w", err)
	}

	var places []nominatimPlace
	if err := c.do(req, &places); err != nil {
		return BoundingBox{}, fmt.Errorf("nominatim search: %w", err)
	}
	if len(places) == 0 || len(places[0].BoundingBox) != 4 {
		return BoundingBox{}, fmt.Errorf("%s, %s: %w", city, country, ErrCityNotFound)
	}

	var v [4]float64
	for i, s := range places[0].BoundingBox {
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return BoundingBox{}, fmt.Errorf("nominatim bounding box %q: %w", s, err)
		}
		v[i] = f
	}
	return BoundingBox{South: v[0], North: v[1], West: v[2], East: v[3]}, nil
}

type overpassResponse struct {
	Elements []overpassElement `json:"elements"`
}

type overpassElement struct {
	Type string            `json:"type"`
	Lat  float64           `json:"lat"`
	Lon  float64           `json:"lon"`
	Tags map[string]string `json:"tags"`
}

// overpassQuery selects nodes with a street and house number inside box.
func overpassQuery(b BoundingBox) string {
	return fmt.Sprintf(
		`[out:json][timeout:25];node["addr:street"]["addr:housenumber"](%s,%s,%s,%s);out body %d;`,
		fmtCoord(b.South), fmtCoord(b.West), fmtCoord(b.North), fmtCoord(b.East), maxCandidates,
	)
}

func fmtCoord(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func (c *Client) addressNodes(ctx context.Context, box BoundingBox) ([]overpassElement, error) {
	form := url.Values{}
	form.Set("data", overpassQuery(box))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.overpassURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("build overpass request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	var resp overpassResponse
	if err := c.do(req, &resp); err != nil {
		return nil, fmt.Errorf("overpass query: %w", err)
	}
	return resp.Elements, nil
}

// do sends req and decodes a JSON body into out. Non-2xx is an error.
func (c *Client) do(req *http.Request, out any) error {
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// collect keeps elements inside box with a street and house number,
// formatted and de-duplicated in response order.
func collect(elements []overpassElement, box BoundingBox, city, country string) []core.Address {
	seen := make(map[string]bool, len(elements))
	out := make([]core.Address, 0, len(elements))
	for _, el := range elements {
		if el.Type != "" && el.Type != "node" {
			continue
		}
		street := strings.TrimSpace(el.Tags["addr:street"])
		number := strings.TrimSpace(el.Tags["addr:housenumber"])
		if street == "" || number == "" || !box.Contains(el.Lat, el.Lon) {
			continue
		}

		formatted := formatAddress(street, number, el.Tags["addr:postcode"], el.Tags["addr:city"], city, country)
		if seen[formatted] {
			continue
		}
		seen[formatted] = true
		out = append(out, core.Address{Formatted: formatted, Latitude: el.Lat, Longitude: el.Lon})
	}
	return out
}

// formatAddress renders "<street> <number>, <postcode> <city>, <country>".
func formatAddress(street, number, postcode, tagCity, city, country string) string {
	place := strings.TrimSpace(tagCity)
	if place == "" {
		place = city
	}
	if pc := strings.TrimSpace(postcode); pc != "" {
		place = pc + " " + place
	}
	return fmt.Sprintf("%s %s, %s, %s", street, number, place, country)
}

// sample draws count addresses, without replacement when there are enough.
func (c *Client) sample(candidates []core.Address, count int) []core.Address {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]core.Address, count)
	if len(candidates) >= count {
		pool := append([]core.Address(nil), candidates...)
		for i := 0; i < count; i++ {
			j := i + c.rnd.IntN(len(pool)-i)
			pool[i], pool[j] = pool[j], pool[i]
			out[i] = pool[i]
		}
		return out
	}
	for i := range out {
		out[i] = candidates[c.rnd.IntN(len(candidates))]
	}
	return out
}
