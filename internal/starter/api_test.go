package starter

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"moff.io/wallet-connector/internal/config"
)

type element struct {
	name    string
	order   *[]string
	applied *config.Configuration
}

func (e *element) Start(context.Context) {
	*e.order = append(*e.order, "start "+e.name)
}

func (e *element) Stop() {
	*e.order = append(*e.order, "stop "+e.name)
}

type configurable struct {
	element
}

func (c *configurable) Apply(conf *config.Configuration) {
	c.applied = conf
	*c.order = append(*c.order, "apply "+c.name)
}

func TestStartAndStop(t *testing.T) {
	var order []string
	conf := &config.Configuration{LogLevel: 2}
	a := &element{name: "a", order: &order}
	b := &configurable{element{name: "b", order: &order}}

	StartWith(context.Background(), conf, a, b)
	Stop(a, b)

	assert.Equal(t, []string{"start a", "apply b", "start b", "stop b", "stop a"}, order)
	assert.Equal(t, conf, b.applied)
}
