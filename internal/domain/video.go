package domain

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Collection names used by the entity repository.
const (
	CollectionVideos   = "videos"
	CollectionInvoices = "message_invoices"
)

// Video is a livestream or VOD asset. Its id doubles as the stream key and
// as the room/topic name.
type Video struct {
	ID          string      `json:"id"`
	Title       string      `json:"title"`
	Description string      `json:"description"`
	Status      VideoStatus `json:"-"`
}

// EntityID implements repository.Entity.
func (v Video) EntityID() string { return v.ID }

// Joinable reports whether viewers may join the video's room.
func (v Video) Joinable() bool {
	switch v.Status.(type) {
	case Scheduled, Live:
		return true
	default:
		return false
	}
}

type videoJSON struct {
	ID          string          `json:"id"`
	Title       string          `json:"title"`
	Description string          `json:"description"`
	Status      json.RawMessage `json:"status"`
}

func (v Video) MarshalJSON() ([]byte, error) {
	status, err := MarshalStatus(v.Status)
	if err != nil {
		return nil, err
	}
	return json.Marshal(videoJSON{ID: v.ID, Title: v.Title, Description: v.Description, Status: status})
}

func (v *Video) UnmarshalJSON(data []byte) error {
	var raw videoJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	status, err := UnmarshalStatus(raw.Status)
	if err != nil {
		return fmt.Errorf("video %q: %w", raw.ID, err)
	}
	*v = Video{ID: raw.ID, Title: raw.Title, Description: raw.Description, Status: status}
	return nil
}

// VideoStatus is the closed set of lifecycle states. Implementations are
// Scheduled, Live, Upload, Processing, Published and Failed.
type VideoStatus interface {
	statusName() string
}

// Scheduled is a video that has not gone live yet.
type Scheduled struct {
	Timestamp uint64 `json:"timestamp"`
}

// Live is a video currently receiving ingest.
type Live struct {
	StartedTimestamp uint64 `json:"started_timestamp"`
	Viewers          int    `json:"viewers"`
}

// Upload is reserved for non-live ingestion.
type Upload struct {
	Timestamp uint64 `json:"timestamp"`
}

// Processing means ingest ended and transcoding is in flight.
type Processing struct{}

// Published is the terminal, deliverable state.
type Published struct {
	Timestamp uint64    `json:"timestamp"`
	Duration  float64   `json:"duration"`
	Views     int       `json:"views"`
	Variants  []Variant `json:"variants"`
}

// Failed is the terminal state of a video whose transcoding gave up.
type Failed struct {
	Timestamp uint64 `json:"timestamp"`
	Reason    string `json:"reason"`
}

func (Scheduled) statusName() string  { return "Scheduled" }
func (Live) statusName() string       { return "Live" }
func (Upload) statusName() string     { return "Upload" }
func (Processing) statusName() string { return "Processing" }
func (Published) statusName() string  { return "Published" }
func (Failed) statusName() string     { return "Failed" }

// StatusName returns the variant name of s, or "" for nil.
func StatusName(s VideoStatus) string {
	if s == nil {
		return ""
	}
	return s.statusName()
}

var errUnknownStatus = errors.New("unknown video status")

// MarshalStatus encodes s in externally tagged form: {"Live":{...}}, or the
// bare string "Processing" for the payload-less state.
func MarshalStatus(s VideoStatus) ([]byte, error) {
	switch st := s.(type) {
	case nil:
		return nil, errors.New("video status is nil")
	case Processing, *Processing:
		return json.Marshal("Processing")
	case Published:
		if st.Variants == nil {
			st.Variants = []Variant{}
		}
		return json.Marshal(map[string]Published{st.statusName(): st})
	default:
		return json.Marshal(map[string]VideoStatus{st.statusName(): st})
	}
}

// UnmarshalStatus decodes the externally tagged form written by MarshalStatus.
func UnmarshalStatus(data []byte) (VideoStatus, error) {
	var name string
	if err := json.Unmarshal(data, &name); err == nil {
		if name == "Processing" {
			return Processing{}, nil
		}
		return nil, fmt.Errorf("%w: %q", errUnknownStatus, name)
	}

	var tagged map[string]json.RawMessage
	if err := json.Unmarshal(data, &tagged); err != nil {
		return nil, fmt.Errorf("decode status: %w", err)
	}
	if len(tagged) != 1 {
		return nil, fmt.Errorf("status must have exactly one variant, got %d", len(tagged))
	}

	for tag, body := range tagged {
		var (
			st  VideoStatus
			err error
		)
		switch tag {
		case "Scheduled":
			var v Scheduled
			err = json.Unmarshal(body, &v)
			st = v
		case "Live":
			var v Live
			err = json.Unmarshal(body, &v)
			st = v
		case "Upload":
			var v Upload
			err = json.Unmarshal(body, &v)
			st = v
		case "Processing":
			st = Processing{}
		case "Published":
			var v Published
			err = json.Unmarshal(body, &v)
			st = v
		case "Failed":
			var v Failed
			err = json.Unmarshal(body, &v)
			st = v
		default:
			return nil, fmt.Errorf("%w: %q", errUnknownStatus, tag)
		}
		if err != nil {
			return nil, fmt.Errorf("decode %s status: %w", tag, err)
		}
		return st, nil
	}
	return nil, errUnknownStatus
}

// Variant is one produced delivery file. It serializes as a
// [height, mime type, filename] array.
type Variant struct {
	Height   int
	MimeType string
	Filename string
}

func (v Variant) MarshalJSON() ([]byte, error) {
	return json.Marshal([]interface{}{v.Height, v.MimeType, v.Filename})
}

func (v *Variant) UnmarshalJSON(data []byte) error {
	var parts []json.RawMessage
	if err := json.Unmarshal(data, &parts); err != nil {
		return err
	}
	if len(parts) != 3 {
		return fmt.Errorf("variant must have 3 elements, got %d", len(parts))
	}
	if err := json.Unmarshal(parts[0], &v.Height); err != nil {
		return fmt.Errorf("variant height: %w", err)
	}
	if err := json.Unmarshal(parts[1], &v.MimeType); err != nil {
		return fmt.Errorf("variant mime type: %w", err)
	}
	if err := json.Unmarshal(parts[2], &v.Filename); err != nil {
		return fmt.Errorf("variant filename: %w", err)
	}
	return nil
}
