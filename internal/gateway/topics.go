package gateway

import (
	"fmt"
	"strings"
)

// TopicPrefix is the root of every kiosk topic.
//
// Inbound requests:  esp32/{kind}/request[/...]
// Outbound replies:  esp32/{kind}/response/{client_id}
const TopicPrefix = "esp32"

// Request kinds. Each names both the inbound topic segment and the reply
// topic base.
const (
	KindAuth   = "auth"
	KindStatus = "status"
	KindLoan   = "loan"
	KindImage  = "image"
)

// route identifies which handler an inbound topic belongs to.
type route int

const (
	routeUnknown route = iota
	routeAuth
	routeStatus
	routeLoan
	routeImagePart
	routeImageFinal
)

func (r route) String() string {
	switch r {
	case routeAuth:
		return KindAuth
	case routeStatus:
		return KindStatus
	case routeLoan:
		return KindLoan
	case routeImagePart:
		return "image_part"
	case routeImageFinal:
		return "image_final"
	default:
		return "unknown"
	}
}

// Topics provides builders for kiosk MQTT topics.
//
//	topics := gateway.Topics{}
//	topics.Response(gateway.KindAuth, "c1")
//	// Returns: "esp32/auth/response/c1"
type Topics struct{}

// Response returns the reply topic for a request kind and client.
//
// Example: esp32/loan/response/kiosk-7
func (Topics) Response(kind, clientID string) string {
	return fmt.Sprintf("%s/%s/response/%s", TopicPrefix, kind, clientID)
}

// AuthRequests returns the subscription filter for auth requests.
//
// Example: esp32/auth/request/#
func (Topics) AuthRequests() string {
	return TopicPrefix + "/auth/request/#"
}

// StatusRequests returns the subscription filter for status requests.
func (Topics) StatusRequests() string {
	return TopicPrefix + "/status/request/#"
}

// LoanRequests returns the subscription filter for loan requests.
func (Topics) LoanRequests() string {
	return TopicPrefix + "/loan/request/#"
}

// LoanMake returns the subscription filter for the esp32/loan/make alias.
func (Topics) LoanMake() string {
	return TopicPrefix + "/loan/make/#"
}

// ImageRequests returns the subscription filter for image transfer messages.
//
// Example: esp32/image/request/#  (matches .../part and .../final)
func (Topics) ImageRequests() string {
	return TopicPrefix + "/image/request/#"
}

// classify maps an inbound topic to its handler by literal prefix and suffix.
// A trailing '#' filter also matches its parent level, so the bare request
// topics (esp32/auth/request) classify the same as their children.
func classify(topic string) route {
	rest, ok := strings.CutPrefix(topic, TopicPrefix+"/")
	if !ok {
		return routeUnknown
	}

	switch {
	case strings.HasPrefix(rest, "auth/request"):
		return routeAuth
	case strings.HasPrefix(rest, "status/request"):
		return routeStatus
	case strings.HasPrefix(rest, "loan/request"), strings.HasPrefix(rest, "loan/make"):
		return routeLoan
	case strings.HasPrefix(rest, "image/request/"):
		switch {
		case strings.HasSuffix(rest, "/part"):
			return routeImagePart
		case strings.HasSuffix(rest, "/final"):
			return routeImageFinal
		}
	}
	return routeUnknown
}
