package telephony

import (
	"encoding/xml"
	"fmt"
)

// StreamParameter is a custom parameter delivered in the start event.
type StreamParameter struct {
	Name  string `xml:"name,attr"`
	Value string `xml:"value,attr"`
}

type twimlResponse struct {
	XMLName xml.Name     `xml:"Response"`
	Connect twimlConnect `xml:"Connect"`
}

type twimlConnect struct {
	Stream twimlStream `xml:"Stream"`
}

type twimlStream struct {
	URL        string            `xml:"url,attr"`
	Parameters []StreamParameter `xml:"Parameter"`
}

// ConnectStreamTwiML renders the document that connects an inbound call to
// the media-stream WebSocket at streamURL.
func ConnectStreamTwiML(streamURL string, params ...StreamParameter) ([]byte, error) {
	doc := twimlResponse{Connect: twimlConnect{Stream: twimlStream{URL: streamURL, Parameters: params}}}
	out, err := xml.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("telephony: render twiml: %w", err)
	}
	return append([]byte(xml.Header), out...), nil
}
