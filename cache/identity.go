package cache

import "strings"

// Identity names one cached read: the endpoint plus its serialized arguments.
type Identity struct {
	Endpoint string
	Args     string
}

// NewIdentity builds an Identity using the serializer for the argument part.
func NewIdentity(serializer KeySerializer, endpoint string, args ...any) Identity {
	if len(args) == 0 {
		return Identity{Endpoint: endpoint}
	}
	key := serializer.SerializeKey(endpoint, args...)
	return Identity{
		Endpoint: endpoint,
		Args:     strings.TrimPrefix(key, endpoint+KeySeparator),
	}
}

// String returns endpoint::args, or the endpoint alone when there are no args.
func (i Identity) String() string {
	if i.Args == "" {
		return i.Endpoint
	}
	return i.Endpoint + KeySeparator + i.Args
}

// IsZero reports whether the identity has no endpoint.
func (i Identity) IsZero() bool {
	return i.Endpoint == ""
}
