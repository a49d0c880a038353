package domain

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVideoStatusWireFormat(t *testing.T) {
	tests := []struct {
		name   string
		status VideoStatus
		want   string
	}{
		{"scheduled", Scheduled{Timestamp: 10}, `{"Scheduled":{"timestamp":10}}`},
		{"live", Live{StartedTimestamp: 20, Viewers: 3}, `{"Live":{"started_timestamp":20,"viewers":3}}`},
		{"processing", Processing{}, `"Processing"`},
		{"published without variants", Published{Timestamp: 1, Duration: 2.5}, `{"Published":{"timestamp":1,"duration":2.5,"views":0,"variants":[]}}`},
		{"failed", Failed{Timestamp: 5, Reason: "probe"}, `{"Failed":{"timestamp":5,"reason":"probe"}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := MarshalStatus(tt.status)
			require.NoError(t, err)
			assert.JSONEq(t, tt.want, string(data))

			back, err := UnmarshalStatus(data)
			require.NoError(t, err)
			assert.Equal(t, StatusName(tt.status), StatusName(back))
		})
	}
}

func TestVideoDecodesPublishedVariantsAsTuples(t *testing.T) {
	raw := `{"id":"v1","title":"t","description":"d","status":{"Published":{"timestamp":7,"duration":61.5,"views":0,"variants":[[480,"video/webm","vp9_480p.webm"],[720,"video/mp4","h264_720p.mp4"]]}}}`

	var v Video
	require.NoError(t, json.Unmarshal([]byte(raw), &v))

	pub, ok := v.Status.(Published)
	require.True(t, ok)
	assert.Equal(t, []Variant{
		{Height: 480, MimeType: "video/webm", Filename: "vp9_480p.webm"},
		{Height: 720, MimeType: "video/mp4", Filename: "h264_720p.mp4"},
	}, pub.Variants)

	out, err := json.Marshal(v)
	require.NoError(t, err)
	assert.JSONEq(t, raw, string(out))
}

func TestUnmarshalStatusRejectsUnknown(t *testing.T) {
	_, err := UnmarshalStatus([]byte(`"Deleted"`))
	assert.Error(t, err)

	_, err = UnmarshalStatus([]byte(`{"Live":{},"Scheduled":{}}`))
	assert.Error(t, err)
}

func TestJoinable(t *testing.T) {
	assert.True(t, Video{Status: Scheduled{}}.Joinable())
	assert.True(t, Video{Status: Live{}}.Joinable())
	assert.False(t, Video{Status: Processing{}}.Joinable())
	assert.False(t, Video{Status: Published{}}.Joinable())
}

func TestPacketRoundTrip(t *testing.T) {
	data, err := EncodePacket(ServerMessage{From: "Anon1", Message: "hi"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"ServerMessage":{"from":"Anon1","message":"hi","extra":null}}`, string(data))

	data, err = EncodePacket(ServerMessage{From: "Anon1", Message: "gg", Extra: &MessageExtra{Amount: 5000, Duration: 30}})
	require.NoError(t, err)
	assert.JSONEq(t, `{"ServerMessage":{"from":"Anon1","message":"gg","extra":{"amount":5000,"timestamp":0,"duration":30}}}`, string(data))

	p, err := DecodePacket([]byte(`{"GetInvoice":{"amount":5000,"message":"gg"}}`))
	require.NoError(t, err)
	assert.Equal(t, GetInvoice{Amount: 5000, Message: "gg"}, p)
}

func TestDecodePacketErrors(t *testing.T) {
	_, err := DecodePacket([]byte(`{"Leave":{}}`))
	assert.ErrorIs(t, err, ErrUnknownPacket)

	_, err = DecodePacket([]byte(`not json`))
	assert.Error(t, err)

	_, err = DecodePacket([]byte(`{"Join":{"room":1}}`))
	assert.Error(t, err)
}
