// Package fault defines the fault plan and observation records exchanged
// between the proposer, the executor client, and the analyzer.
package fault

import (
	"fmt"
)

// Kind identifies what a fault plan does to matched requests.
type Kind string

const (
	KindDelay          Kind = "delay"
	KindAbort          Kind = "abort"
	KindErrorInjection Kind = "error_injection"
)

// Valid reports whether k is one of the supported fault kinds.
func (k Kind) Valid() bool {
	switch k {
	case KindDelay, KindAbort, KindErrorInjection:
		return true
	}
	return false
}

// Plan is one candidate fault to inject. It is immutable once constructed;
// kind-conditional parameters are validated up front so downstream code never
// has to re-check them.
type Plan struct {
	Service    string `json:"service"`
	API        string `json:"api,omitempty"`
	Kind       Kind   `json:"fault_type"`
	Percentage int    `json:"percentage"`
	DurationMS int    `json:"duration_ms,omitempty"`

	// DelayMS is required when Kind is delay.
	DelayMS int `json:"delay_ms,omitempty"`
	// AbortStatus is required when Kind is abort.
	AbortStatus int `json:"abort_status,omitempty"`
	// ErrorCode is optional and only meaningful when Kind is error_injection.
	ErrorCode *int `json:"error_code,omitempty"`
}

// Validate checks the cross-field invariants of a plan.
func (p Plan) Validate() error {
	if p.Service == "" {
		return fmt.Errorf("plan: service is required")
	}
	if !p.Kind.Valid() {
		return fmt.Errorf("plan: unknown fault kind %q", p.Kind)
	}
	if p.Percentage < 0 || p.Percentage > 100 {
		return fmt.Errorf("plan: percentage %d out of range [0,100]", p.Percentage)
	}
	if p.DurationMS < 0 {
		return fmt.Errorf("plan: duration_ms must not be negative")
	}

	switch p.Kind {
	case KindDelay:
		if p.DelayMS <= 0 {
			return fmt.Errorf("plan: delay_ms is required for kind delay")
		}
		if p.DurationMS > 0 && p.DelayMS >= p.DurationMS {
			return fmt.Errorf("plan: delay_ms %d must be less than duration_ms %d", p.DelayMS, p.DurationMS)
		}
		if p.AbortStatus != 0 || p.ErrorCode != nil {
			return fmt.Errorf("plan: delay plans must not carry abort or error parameters")
		}
	case KindAbort:
		if p.AbortStatus < 400 || p.AbortStatus > 599 {
			return fmt.Errorf("plan: abort_status %d out of range [400,599]", p.AbortStatus)
		}
		if p.DelayMS != 0 || p.ErrorCode != nil {
			return fmt.Errorf("plan: abort plans must not carry delay or error parameters")
		}
	case KindErrorInjection:
		if p.ErrorCode != nil && (*p.ErrorCode < 400 || *p.ErrorCode > 599) {
			return fmt.Errorf("plan: error_code %d out of range [400,599]", *p.ErrorCode)
		}
		if p.DelayMS != 0 || p.AbortStatus != 0 {
			return fmt.Errorf("plan: error_injection plans must not carry delay or abort parameters")
		}
	}
	return nil
}

// Well-known dimension names shared between the search space and the plan.
const (
	DimService     = "service"
	DimAPI         = "api"
	DimFaultType   = "fault_type"
	DimPercentage  = "percentage"
	DimDurationMS  = "duration_ms"
	DimDelayMS     = "delay_ms"
	DimAbortStatus = "abort_status"
	DimErrorCode   = "error_code"
)

// Assignment flattens the plan into dimension-name keyed values. Only fields
// that are active for the plan's kind are included, so the result maps cleanly
// onto a search space using the well-known dimension names.
func (p Plan) Assignment() map[string]any {
	a := map[string]any{
		DimService:    p.Service,
		DimFaultType:  string(p.Kind),
		DimPercentage: p.Percentage,
	}
	if p.API != "" {
		a[DimAPI] = p.API
	}
	if p.DurationMS > 0 {
		a[DimDurationMS] = p.DurationMS
	}
	switch p.Kind {
	case KindDelay:
		a[DimDelayMS] = p.DelayMS
	case KindAbort:
		a[DimAbortStatus] = p.AbortStatus
	case KindErrorInjection:
		if p.ErrorCode != nil {
			a[DimErrorCode] = *p.ErrorCode
		}
	}
	return a
}

// FromAssignment builds a validated plan from decoded search-space values.
// Dimensions the plan has no field for are ignored; fallbackService fills in
// the target service when the space does not model it as a dimension. When the
// space carries no percentage dimension the plan applies to all traffic.
func FromAssignment(assign map[string]any, fallbackService string) (Plan, error) {
	p := Plan{
		Service:    stringValue(assign, DimService, fallbackService),
		API:        stringValue(assign, DimAPI, ""),
		Percentage: 100,
	}

	kind, ok := assign[DimFaultType]
	if !ok {
		return Plan{}, fmt.Errorf("plan: assignment is missing %s", DimFaultType)
	}
	ks, ok := kind.(string)
	if !ok {
		return Plan{}, fmt.Errorf("plan: %s must be a string, got %T", DimFaultType, kind)
	}
	p.Kind = Kind(ks)

	var err error
	if v, ok := assign[DimPercentage]; ok {
		if p.Percentage, err = intValue(DimPercentage, v); err != nil {
			return Plan{}, err
		}
	}
	if v, ok := assign[DimDurationMS]; ok {
		if p.DurationMS, err = intValue(DimDurationMS, v); err != nil {
			return Plan{}, err
		}
	}

	switch p.Kind {
	case KindDelay:
		if v, ok := assign[DimDelayMS]; ok {
			if p.DelayMS, err = intValue(DimDelayMS, v); err != nil {
				return Plan{}, err
			}
		}
	case KindAbort:
		if v, ok := assign[DimAbortStatus]; ok {
			if p.AbortStatus, err = intValue(DimAbortStatus, v); err != nil {
				return Plan{}, err
			}
		}
	case KindErrorInjection:
		if v, ok := assign[DimErrorCode]; ok {
			code, err := intValue(DimErrorCode, v)
			if err != nil {
				return Plan{}, err
			}
			p.ErrorCode = &code
		}
	}

	if err := p.Validate(); err != nil {
		return Plan{}, err
	}
	return p, nil
}

func stringValue(assign map[string]any, key, fallback string) string {
	if v, ok := assign[key]; ok {
		if s, ok := v.(string); ok && s != "" {
			return s
		}
	}
	return fallback
}

func intValue(key string, v any) (int, error) {
	switch t := v.(type) {
	case int:
		return t, nil
	case int64:
		return int(t), nil
	case float64:
		return int(t), nil
	default:
		return 0, fmt.Errorf("plan: %s must be numeric, got %T", key, v)
	}
}
