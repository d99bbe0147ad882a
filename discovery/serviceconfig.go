package discovery

import (
	"encoding/json"
	"fmt"
	"os"
)

// ServiceConfig is the content of a .serviceconfig file.
type ServiceConfig struct {
	Services []ServiceInfo `json:"services"`
}

// serviceEntry accepts both the singular providedInterface spelling and the
// providedInterfaces list.
type serviceEntry struct {
	ServiceInfo
	ProvidedInterface string `json:"providedInterface,omitempty"`
}

// UnmarshalJSON implements json.Unmarshaler.
func (c *ServiceConfig) UnmarshalJSON(data []byte) error {
	var raw struct {
		Services []serviceEntry `json:"services"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	c.Services = make([]ServiceInfo, 0, len(raw.Services))
	for _, e := range raw.Services {
		svc := e.ServiceInfo
		if e.ProvidedInterface != "" && !svc.Provides(e.ProvidedInterface) {
			svc.ProvidedInterfaces = append([]string{e.ProvidedInterface}, svc.ProvidedInterfaces...)
		}
		c.Services = append(c.Services, svc)
	}
	return nil
}

// Lookup returns the service with the given class.
func (c ServiceConfig) Lookup(serviceClass string) (ServiceInfo, bool) {
	for _, s := range c.Services {
		if s.ServiceClass == serviceClass {
			return s, true
		}
	}
	return ServiceInfo{}, false
}

// LoadServiceConfig reads a .serviceconfig file. Every listed service must
// validate.
func LoadServiceConfig(path string) (ServiceConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return ServiceConfig{}, fmt.Errorf("read service config: %w", err)
	}
	var cfg ServiceConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return ServiceConfig{}, fmt.Errorf("parse service config %s: %w", path, err)
	}
	if len(cfg.Services) == 0 {
		return ServiceConfig{}, fmt.Errorf("service config %s: %w: no services", path, ErrInvalidService)
	}
	for i, s := range cfg.Services {
		if err := s.Validate(); err != nil {
			return ServiceConfig{}, fmt.Errorf("service config %s: services[%d]: %w", path, i, err)
		}
	}
	return cfg, nil
}
