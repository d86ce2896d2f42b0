// Package sched implements the core runtime's cooperative event loop.
/*
 * Copyright (c) 2026, Serval Project contributors. All rights reserved.
 */
package sched_test

import (
	"testing"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

func TestSched(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, t.Name())
}
