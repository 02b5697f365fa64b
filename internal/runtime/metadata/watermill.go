package metadata

import "github.com/ThreeDotsLabs/watermill/message"

// FromWatermill converts Watermill metadata into call metadata, keeping only
// entries under prefix (stripped). An empty prefix keeps everything.
func FromWatermill(md message.Metadata, prefix string) Metadata {
	result := Metadata{}
	for k, v := range md {
		if prefix == "" {
			result[k] = v
			continue
		}
		if len(k) > len(prefix) && k[:len(prefix)] == prefix {
			result[k[len(prefix):]] = v
		}
	}
	return result
}

// ToWatermill copies call metadata into a Watermill map with every key
// prefixed, so call metadata never collides with envelope headers.
func ToWatermill(metadata Metadata, prefix string) message.Metadata {
	wm := make(message.Metadata, len(metadata))
	for k, v := range metadata {
		wm[prefix+k] = v
	}
	return wm
}
