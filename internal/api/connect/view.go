package connect

import (
	"github.com/cockroachdb/errors"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/osa030/abplayer/internal/app/presenter"
)

// View field names on the wire.
const (
	fieldTitle       = "title"
	fieldAuthor      = "author"
	fieldIndex       = "index"
	fieldTotal       = "total"
	fieldState       = "state"
	fieldIsPlaying   = "is_playing"
	fieldIsBuffering = "is_buffering"
	fieldLoaded      = "loaded"
	fieldSequenceNo  = "sequence_no"
	fieldEvent       = "event"
)

// EncodeView converts a view to a protobuf Struct.
func EncodeView(v presenter.View) (*structpb.Struct, error) {
	return encode(viewFields(v))
}

// EncodeNotification converts a watched change to a protobuf Struct.
func EncodeNotification(seq uint64, event string, v presenter.View) (*structpb.Struct, error) {
	fields := viewFields(v)
	fields[fieldSequenceNo] = seq
	fields[fieldEvent] = event
	return encode(fields)
}

func viewFields(v presenter.View) map[string]any {
	return map[string]any{
		fieldTitle:       v.Title,
		fieldAuthor:      v.Author,
		fieldIndex:       v.Index,
		fieldTotal:       v.Total,
		fieldState:       v.State,
		fieldIsPlaying:   v.IsPlaying,
		fieldIsBuffering: v.IsBuffering,
		fieldLoaded:      v.Loaded,
	}
}

func encode(fields map[string]any) (*structpb.Struct, error) {
	s, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, errors.Wrap(err, "encode view")
	}
	return s, nil
}

// DecodeView reads a view from a protobuf Struct. Missing fields stay zero.
func DecodeView(s *structpb.Struct) presenter.View {
	f := s.GetFields()
	return presenter.View{
		Title:       f[fieldTitle].GetStringValue(),
		Author:      f[fieldAuthor].GetStringValue(),
		Index:       int(f[fieldIndex].GetNumberValue()),
		Total:       int(f[fieldTotal].GetNumberValue()),
		State:       f[fieldState].GetStringValue(),
		IsPlaying:   f[fieldIsPlaying].GetBoolValue(),
		IsBuffering: f[fieldIsBuffering].GetBoolValue(),
		Loaded:      f[fieldLoaded].GetBoolValue(),
	}
}

// DecodeNotification reads a watched change from a protobuf Struct.
func DecodeNotification(s *structpb.Struct) (uint64, string, presenter.View) {
	f := s.GetFields()
	return uint64(f[fieldSequenceNo].GetNumberValue()), f[fieldEvent].GetStringValue(), DecodeView(s)
}
