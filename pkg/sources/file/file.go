// Package file implements a sources.Source over a local newline-delimited
// JSON file or a single top-level JSON array of CaptureRecords, decoded
// with github.com/go-faster/jx to avoid materializing the whole corpus in
// memory before the preprocessor can start consuming it (SPEC_FULL §3).
package file

import (
	"bufio"
	"context"
	"os"
	"time"

	"github.com/go-faster/jx"

	"github.com/jordigilh/crawlstats/pkg/errs"
	"github.com/jordigilh/crawlstats/pkg/shared/types"
)

// Source reads CaptureRecords from a path on the local filesystem.
type Source struct {
	Path string
}

// New returns a file Source rooted at path.
func New(path string) *Source {
	return &Source{Path: path}
}

const sendBufferSize = 256

// Load opens Path and streams CaptureRecords onto the returned channel,
// auto-detecting a bare JSON array vs. newline-delimited records. The
// channel closes when the file is exhausted, ctx is cancelled, or a decode
// error terminates the scan early; dateRange filtering itself happens in
// the preprocessor, not here.
func (s *Source) Load(ctx context.Context, dateRange types.DateRange) (<-chan types.CaptureRecord, error) {
	f, err := os.Open(s.Path)
	if err != nil {
		return nil, errs.Load("open %q: %v", s.Path, err)
	}

	out := make(chan types.CaptureRecord, sendBufferSize)
	go func() {
		defer f.Close()
		defer close(out)

		r := bufio.NewReaderSize(f, 64*1024)
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
			if err := send(ctx, out, rec); err != nil {
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
				tag, err := decodeMetaTag(d)
				if err != nil {
					return err
				}
				rec.MetaTags = append(rec.MetaTags, tag)
				return nil
			})
		case "scripts":
			return d.Arr(func(d *jx.Decoder) error {
				s, err := decodeScript(d)
				if err != nil {
					return err
				}
				rec.Scripts = append(rec.Scripts, s)
				return nil
			})
		case "detectionResults":
			return d.Arr(func(d *jx.Decoder) error {
				dr, err := decodeDetection(d)
				if err != nil {
					return err
				}
				rec.DetectionResults = append(rec.DetectionResults, dr)
				return nil
			})
		case "robotsTxt":
			rt, err := decodeRobots(d)
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

func decodeMetaTag(d *jx.Decoder) (types.MetaTag, error) {
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
	return tag, err
}

func decodeScript(d *jx.Decoder) (types.Script, error) {
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
	return s, err
}

func decodeDetection(d *jx.Decoder) (types.DetectionResult, error) {
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
	return dr, err
}

func decodeRobots(d *jx.Decoder) (*types.RobotsTxt, error) {
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
	return rt, err
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
