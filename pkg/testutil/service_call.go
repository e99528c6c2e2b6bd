package testutil

import "time"

// ServiceCall records one call_service request
type ServiceCall struct {
	Timestamp   time.Time
	Domain      string
	Service     string
	ServiceData map[string]interface{}
}

// EntityID is the call's target entity, empty when none was given
func (c ServiceCall) EntityID() string {
	id, _ := c.ServiceData["entity_id"].(string)
	return id
}

// FindServiceCall returns the most recent call to domain.service targeting
// entityID. An empty entityID matches any target.
func FindServiceCall(calls []ServiceCall, domain, service, entityID string) *ServiceCall {
	for i := len(calls) - 1; i >= 0; i-- {
		call := calls[i]
		if call.Domain != domain || call.Service != service {
			continue
		}
		if entityID == "" || call.EntityID() == entityID {
			return &call
		}
	}
	return nil
}

// CountServiceCalls counts calls to domain.service
func CountServiceCalls(calls []ServiceCall, domain, service string) int {
	count := 0
	for _, call := range calls {
		if call.Domain == domain && call.Service == service {
			count++
		}
	}
	return count
}
