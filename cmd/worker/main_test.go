package main

import (
	"testing"
	"time"

	"github.com/pedscribe/pedscribe/internal/pkg/pipeline"
	"github.com/stretchr/testify/assert"
)

func Test_defaultV(t *testing.T) {
	tests := []struct {
		name string
		got  interface{}
		want interface{}
	}{
		{name: "language empty", got: defaultV("", "pt"), want: "pt"},
		{name: "language set", got: defaultV("en", "pt"), want: "en"},
		{name: "workers empty", got: defaultV(0, 2), want: 2},
		{name: "workers set", got: defaultV(6, 2), want: 6},
		{name: "lease empty", got: defaultV(time.Duration(0), pipeline.DefaultLeaseTime), want: pipeline.DefaultLeaseTime},
		{name: "lease set", got: defaultV(time.Minute*5, pipeline.DefaultLeaseTime), want: time.Minute * 5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.got)
		})
	}
}
