// SAGE - Secure Agent Guarantee Engine
// Copyright (C) 2025 SAGE-X-project
//
// This file is part of SAGE.
//
// SAGE is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// SAGE is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with SAGE. If not, see <https://www.gnu.org/licenses/>.

package session

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMetadataBuilder(t *testing.T) {
	t.Run("DefaultValues", func(t *testing.T) {
		m := NewMetadataBuilder().Build()
		require.True(t, strings.HasPrefix(m.ID, GeneralPrefix))
		require.Equal(t, "proposed", m.Status)
		require.NotEmpty(t, m.CreatedAt)
		require.Empty(t, m.ExpiresAt)
	})

	t.Run("UniqueIDs", func(t *testing.T) {
		a := NewMetadataBuilder().Build()
		b := NewMetadataBuilder().Build()
		require.NotEqual(t, a.ID, b.ID)
	})

	t.Run("WithStatus", func(t *testing.T) {
		m := NewMetadataBuilder().WithStatus("active").Build()
		require.Equal(t, "active", m.Status)
	})

	t.Run("WithExpiresAfter", func(t *testing.T) {
		created := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
		m := NewMetadataBuilder().
			WithCreatedAt(created).
			WithExpiresAfter(time.Hour).
			Build()

		expires, err := time.Parse(time.RFC3339, m.ExpiresAt)
		require.NoError(t, err)
		require.Equal(t, created.Add(time.Hour), expires)
	})
}

func TestGenerateSaltIsUniqueAndDecodable(t *testing.T) {
	a, err := GenerateSalt()
	require.NoError(t, err)
	b, err := GenerateSalt()
	require.NoError(t, err)

	require.NotEqual(t, a, b)
	require.NotEmpty(t, a)
}
