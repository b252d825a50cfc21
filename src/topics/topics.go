// Package topics implements the tenant namespace rewrite applied to every
// MQTT topic that crosses the broker.
package topics

import (
	"errors"
	"strconv"
	"strings"
)

// ErrReservedTopic is returned by Rewrite for topics in a reserved broker
// namespace. The broker converts it into a publish drop or SUBACK failure.
var ErrReservedTopic = errors.New("reserved topic")

// Namespaces a client may never publish or subscribe into, matched only at
// position 0. A "$" anywhere else in the topic is ordinary data.
var reservedPrefixes = []string{"$SYS/", "$share/", "$queue/"}

// Reserved reports whether topic begins with a reserved namespace prefix.
func Reserved(topic string) bool {
	for _, p := range reservedPrefixes {
		if strings.HasPrefix(topic, p) {
			return true
		}
	}
	return false
}

// Rewrite prepends the authenticated tenant namespace to a client-supplied
// topic. The suffix is not interpreted: wildcards, odd slashes, a literal
// "tenants/..." prefix and even the empty string pass through unchanged
// after "tenants/{tenantID}/". Because the authenticated tenant id is always
// placed first by the server, a client can never address another tenant's
// namespace.
func Rewrite(topic string, tenantID int64) (string, error) {
	if Reserved(topic) {
		return "", ErrReservedTopic
	}
	return "tenants/" + strconv.FormatInt(tenantID, 10) + "/" + topic, nil
}
