// Package http implements a sources.Source that pulls a capture-record
// export over HTTPS from an upstream crawl-storage API, authenticated with
// OAuth2 client-credentials (golang.org/x/oauth2/clientcredentials) and
// guarded by a github.com/sony/gobreaker circuit breaker around the
// upstream call, mirroring the teacher's circuit-breaker-wrapped external
// call pattern (SPEC_FULL §3).
package http

import (
	"bufio"
	"context"
	"net/http"
	"time"

	"github.com/go-faster/jx"
	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/jordigilh/crawlstats/pkg/errs"
	"github.com/jordigilh/crawlstats/pkg/shared/types"
)

// Config configures a Source.
type Config struct {
	// Endpoint is the URL returning a newline-delimited-JSON or
	// JSON-array capture-record export.
	Endpoint string
	// TokenURL, ClientID and ClientSecret drive the OAuth2
	// client-credentials token exchange used to authenticate Endpoint.
	TokenURL     string
	ClientID     string
	ClientSecret string
	Scopes       []string

	// BreakerName labels the circuit breaker in its state-change log lines.
	BreakerName string
	// ConsecutiveFailureThreshold trips the breaker once this many
	// consecutive requests have failed. Defaults to 5.
	ConsecutiveFailureThreshold uint32
	// ResetTimeout is how long the breaker stays open before allowing a
	// single probe request through. Defaults to 30s.
	ResetTimeout time.Duration
}

// Source reads a capture-record export over HTTP(S).
type Source struct {
	cfg     Config
	client  *http.Client
	breaker *gobreaker.CircuitBreaker
	logger  *logrus.Entry
}

// New returns an http Source built from cfg. logger may be nil.
func New(cfg Config, logger *logrus.Entry) *Source {
	oauthCfg := clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     cfg.TokenURL,
		Scopes:       cfg.Scopes,
	}

	threshold := cfg.ConsecutiveFailureThreshold
	if threshold == 0 {
		threshold = 5
	}
	resetTimeout := cfg.ResetTimeout
	if resetTimeout == 0 {
		resetTimeout = 30 * time.Second
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    cfg.BreakerName,
		Timeout: resetTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			if logger != nil {
				logger.WithFields(logrus.Fields{
					"breaker": name, "from": from.String(), "to": to.String(),
				}).Warn("circuit breaker state change")
			}
		},
	})

	return &Source{
		cfg:     cfg,
		client:  oauthCfg.Client(context.Background()),
		breaker: breaker,
		logger:  logger,
	}
}

const sendBufferSize = 256

// Load fetches cfg.Endpoint through the circuit breaker and streams its
// decoded capture records onto the returned channel. dateRange filtering
// happens in the preprocessor, not here.
func (s *Source) Load(ctx context.Context, dateRange types.DateRange) (<-chan types.CaptureRecord, error) {
	resp, err := s.breaker.Execute(func() (interface{}, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.cfg.Endpoint, nil)
		if err != nil {
			return nil, err
		}
		resp, err := s.client.Do(req)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode >= 400 {
			resp.Body.Close()
			return nil, errs.Load("fetch %q: status %d", s.cfg.Endpoint, resp.StatusCode)
		}
		return resp, nil
	})
	if err != nil {
		return nil, errs.Load("fetch %q: %v", s.cfg.Endpoint, err)
	}
	httpResp := resp.(*http.Response)

	out := make(chan types.CaptureRecord, sendBufferSize)
	go func() {
		defer httpResp.Body.Close()
		defer close(out)

		r := bufio.NewReaderSize(httpResp.Body, 64*1024)
		first, err := r.Peek(1)
		if err != nil {
			return
		}

		d := jx.Decode(r, 64*1024)
		if first[0] == '[' {
			_ = d.Arr(func(d *jx.Decoder) error {
				rec, err := decodeRecord(d)
				if err != nil {
					return err
				}
				return send(ctx, out, rec)
			})
			return
		}

		for {
			select {
			case <-ctx.Done():
				return
			default:
			}
			if _, err := d.Next(); err != nil {
				return
			}
			rec, err := decodeRecord(d)
			if err != nil {
				return
			}
			if send(ctx, out, rec) != nil {
				return
			}
		}
	}()
	return out, nil
}

func send(ctx context.Context, out chan<- types.CaptureRecord, rec types.CaptureRecord) error {
	select {
	case out <- rec:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func decodeRecord(d *jx.Decoder) (types.CaptureRecord, error) {
	var rec types.CaptureRecord
	rec.HTTPHeaders = make(map[string][]string)

	err := d.Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "url":
			v, err := d.Str()
			rec.URL = v
			return err
		case "timestamp":
			v, err := d.Str()
			if err != nil {
				return err
			}
			ts, err := time.Parse(time.RFC3339, v)
			if err != nil {
				return nil
			}
			rec.Timestamp = ts
			return nil
		case "httpHeaders":
			return d.ObjBytes(func(d *jx.Decoder, k []byte) error {
				vals, err := decodeHeaderValues(d)
				if err != nil {
					return err
				}
				name := string(k)
				rec.HTTPHeaders[name] = append(rec.HTTPHeaders[name], vals...)
				return nil
			})
		case "metaTags":
			return d.Arr(func(d *jx.Decoder) error {
				var tag types.MetaTag
				err := d.Obj(func(d *jx.Decoder, key string) error {
					switch key {
					case "name":
						v, err := d.Str()
						tag.Kind, tag.Key = types.MetaKindName, v
						return err
					case "property":
						v, err := d.Str()
						tag.Kind, tag.Key = types.MetaKindProperty, v
						return err
					case "httpEquiv":
						v, err := d.Str()
						tag.Kind, tag.Key = types.MetaKindHTTPEquiv, v
						return err
					case "content":
						v, err := d.Str()
						tag.Content = v
						return err
					default:
						return d.Skip()
					}
				})
				if err != nil {
					return err
				}
				rec.MetaTags = append(rec.MetaTags, tag)
				return nil
			})
		case "scripts":
			return d.Arr(func(d *jx.Decoder) error {
				var s types.Script
				err := d.Obj(func(d *jx.Decoder, key string) error {
					switch key {
					case "src":
						v, err := d.Str()
						s.Src = v
						return err
					case "inlineContent":
						v, err := d.Str()
						s.InlineContent = v
						return err
					default:
						return d.Skip()
					}
				})
				if err != nil {
					return err
				}
				rec.Scripts = append(rec.Scripts, s)
				return nil
			})
		case "detectionResults":
			return d.Arr(func(d *jx.Decoder) error {
				var dr types.DetectionResult
				err := d.Obj(func(d *jx.Decoder, key string) error {
					switch key {
					case "cms":
						v, err := d.Str()
						dr.CMS = v
						return err
					case "confidence":
						v, err := d.Float64()
						dr.Confidence = v
						return err
					case "version":
						v, err := d.Str()
						dr.Version = v
						return err
					default:
						return d.Skip()
					}
				})
				if err != nil {
					return err
				}
				rec.DetectionResults = append(rec.DetectionResults, dr)
				return nil
			})
		case "robotsTxt":
			rt := &types.RobotsTxt{HTTPHeaders: make(map[string][]string)}
			err := d.Obj(func(d *jx.Decoder, key string) error {
				switch key {
				case "httpHeaders":
					return d.ObjBytes(func(d *jx.Decoder, k []byte) error {
						vals, err := decodeHeaderValues(d)
						if err != nil {
							return err
						}
						name := string(k)
						rt.HTTPHeaders[name] = append(rt.HTTPHeaders[name], vals...)
						return nil
					})
				default:
					return d.Skip()
				}
			})
			if err != nil {
				return err
			}
			rec.RobotsTxt = rt
			return nil
		default:
			return d.Skip()
		}
	})
	return rec, err
}

// decodeHeaderValues reads one header's value, given either as a single
// JSON string or as an array of strings.
func decodeHeaderValues(d *jx.Decoder) ([]string, error) {
	var vals []string
	if d.Next() != jx.Array {
		v, err := d.Str()
		return append(vals, v), err
	}
	err := d.Arr(func(d *jx.Decoder) error {
		v, err := d.Str()
		vals = append(vals, v)
		return err
	})
	return vals, err
}
