// Package tests holds the shared test layers: testify mocks under
// mocks/, the tagged Postgres suite under integration/, and the
// full-lifecycle suite under e2e/.
package tests

import (
	// Blank imports pin the test-only dependencies in go.mod even when
	// the tagged suites are excluded from a plain build.
	_ "github.com/DATA-DOG/go-sqlmock"
	_ "github.com/stretchr/testify/assert"
	_ "github.com/stretchr/testify/mock"
	_ "github.com/stretchr/testify/require"
	_ "github.com/testcontainers/testcontainers-go"
)
