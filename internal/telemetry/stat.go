package telemetry

import "encoding/xml"

// Stat is the document served by the nginx-rtmp stat module.
type Stat struct {
	XMLName          xml.Name      `xml:"rtmp"`
	NginxVersion     string        `xml:"nginx_version"`
	NginxRTMPVersion string        `xml:"nginx_rtmp_version"`
	Uptime           int64         `xml:"uptime"`
	Applications     []Application `xml:"server>application"`
}

// Application is one rtmp application block.
type Application struct {
	Name    string   `xml:"name"`
	Streams []Stream `xml:"live>stream"`
}

// Stream is one live stream inside an application.
type Stream struct {
	Name     string         `xml:"name"`
	Time     int64          `xml:"time"`
	BWIn     int64          `xml:"bw_in"`
	BytesIn  int64          `xml:"bytes_in"`
	BWOut    int64          `xml:"bw_out"`
	BytesOut int64          `xml:"bytes_out"`
	Clients  []StreamClient `xml:"client"`
	Meta     *Meta          `xml:"meta"`
}

// StreamClient is a publisher or player connected to a stream.
type StreamClient struct {
	ID        int64  `xml:"id"`
	Address   string `xml:"address"`
	FlashVer  string `xml:"flashver"`
	Dropped   int64  `xml:"dropped"`
	Timestamp int64  `xml:"timestamp"`
}

// Meta carries the media parameters announced by the publisher.
type Meta struct {
	Video *VideoMeta `xml:"video"`
	Audio *AudioMeta `xml:"audio"`
}

type VideoMeta struct {
	Width     int     `xml:"width"`
	Height    int     `xml:"height"`
	FrameRate float64 `xml:"frame_rate"`
	Codec     string  `xml:"codec"`
	Profile   string  `xml:"profile"`
}

type AudioMeta struct {
	Codec      string `xml:"codec"`
	Profile    string `xml:"profile"`
	Channels   int    `xml:"channels"`
	SampleRate int    `xml:"sample_rate"`
}

// Application returns the named application, or nil.
func (s *Stat) Application(name string) *Application {
	for i := range s.Applications {
		if s.Applications[i].Name == name {
			return &s.Applications[i]
		}
	}
	return nil
}

// Stream returns the named stream, or nil.
func (a *Application) Stream(name string) *Stream {
	if a == nil {
		return nil
	}
	for i := range a.Streams {
		if a.Streams[i].Name == name {
			return &a.Streams[i]
		}
	}
	return nil
}
