package chat

import "math/rand"

// Endpoint 上游 API 端点配置
type Endpoint struct {
	URL     string `json:"url"`
	Weight  int    `json:"weight"`
	Model   string `json:"model,omitempty"`
	Version int    `json:"version"`
}

// SelectEndpoint picks one endpoint by weighted random sampling.
// Endpoints with weight 0 are excluded from the draw; if no endpoint has a
// positive weight the first endpoint is returned as-is. Returns false only
// when the list is empty.
func SelectEndpoint(endpoints []Endpoint) (Endpoint, bool) {
	if len(endpoints) == 0 {
		return Endpoint{}, false
	}

	valid := make([]Endpoint, 0, len(endpoints))
	total := 0
	for _, ep := range endpoints {
		if ep.Weight > 0 {
			valid = append(valid, ep)
			total += ep.Weight
		}
	}
	if len(valid) == 0 {
		return endpoints[0], true
	}

	// 按累计权重采样
	n := rand.Intn(total)
	for _, ep := range valid {
		n -= ep.Weight
		if n < 0 {
			return ep, true
		}
	}
	return valid[len(valid)-1], true
}
