// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Medidir Contributors

package postgres

import (
	"context"

	"github.com/samber/oops"

	"github.com/medidir/medidir/internal/auth"
)

// associationTable maps a kind to its join table and reference column.
// Statement text is only ever built from these constants.
type associationTable struct {
	table  string
	column string
}

var associationTables = map[auth.AssociationKind]associationTable{
	auth.AssociationSpecialty: {table: "user_specialties", column: "specialty_id"},
	auth.AssociationClinic:    {table: "user_clinics", column: "clinic_id"},
	auth.AssociationLanguage:  {table: "user_languages", column: "language_id"},
}

// AssociationRepository implements auth.AssociationRepository using
// PostgreSQL, one join table per kind.
type AssociationRepository struct {
	db DB
}

// NewAssociationRepository creates a new AssociationRepository.
func NewAssociationRepository(db DB) *AssociationRepository {
	return &AssociationRepository{db: db}
}

func lookupAssociation(kind auth.AssociationKind) (associationTable, error) {
	t, ok := associationTables[kind]
	if !ok {
		return associationTable{}, oops.Code(auth.CodeInvalidArgument).
			With("kind", kind).
			Errorf("unknown association kind")
	}
	return t, nil
}

// List returns the referenced ids in insertion order.
func (r *AssociationRepository) List(ctx context.Context, userID int64, kind auth.AssociationKind) ([]int64, error) {
	t, err := lookupAssociation(kind)
	if err != nil {
		return nil, err
	}
	rows, err := conn(ctx, r.db).Query(ctx,
		`SELECT `+t.column+` FROM `+t.table+` WHERE user_id = $1 ORDER BY id`, userID)
	if err != nil {
		return nil, oops.Code("ASSOCIATION_LIST_FAILED").
			With("user_id", userID).
			With("kind", kind).
			Wrap(err)
	}
	defer rows.Close()

	var refs []int64
	for rows.Next() {
		var ref int64
		if err := rows.Scan(&ref); err != nil {
			return nil, oops.Code("ASSOCIATION_LIST_FAILED").With("kind", kind).Wrap(err)
		}
		refs = append(refs, ref)
	}
	if err := rows.Err(); err != nil {
		return nil, oops.Code("ASSOCIATION_LIST_FAILED").With("kind", kind).Wrap(err)
	}
	return refs, nil
}

// Add links the given ids in order. Existing links are left alone.
func (r *AssociationRepository) Add(ctx context.Context, userID int64, kind auth.AssociationKind, refs []int64) error {
	if len(refs) == 0 {
		return nil
	}
	t, err := lookupAssociation(kind)
	if err != nil {
		return err
	}
	_, err = conn(ctx, r.db).Exec(ctx, `
		INSERT INTO `+t.table+` (user_id, `+t.column+`)
		SELECT $1, ref FROM UNNEST($2::bigint[]) WITH ORDINALITY AS u(ref, ord)
		ORDER BY ord
		ON CONFLICT DO NOTHING
	`, userID, refs)
	if err != nil {
		return oops.Code("ASSOCIATION_ADD_FAILED").
			With("user_id", userID).
			With("kind", kind).
			Wrap(err)
	}
	return nil
}

// Remove unlinks the given ids.
func (r *AssociationRepository) Remove(ctx context.Context, userID int64, kind auth.AssociationKind, refs []int64) error {
	if len(refs) == 0 {
		return nil
	}
	t, err := lookupAssociation(kind)
	if err != nil {
		return err
	}
	_, err = conn(ctx, r.db).Exec(ctx,
		`DELETE FROM `+t.table+` WHERE user_id = $1 AND `+t.column+` = ANY($2)`, userID, refs)
	if err != nil {
		return oops.Code("ASSOCIATION_REMOVE_FAILED").
			With("user_id", userID).
			With("kind", kind).
			Wrap(err)
	}
	return nil
}

// DeleteAll removes every link of the kind.
func (r *AssociationRepository) DeleteAll(ctx context.Context, userID int64, kind auth.AssociationKind) error {
	t, err := lookupAssociation(kind)
	if err != nil {
		return err
	}
	_, err = conn(ctx, r.db).Exec(ctx, `DELETE FROM `+t.table+` WHERE user_id = $1`, userID)
	if err != nil {
		return oops.Code("ASSOCIATION_DELETE_FAILED").
			With("user_id", userID).
			With("kind", kind).
			Wrap(err)
	}
	return nil
}

var _ auth.AssociationRepository = (*AssociationRepository)(nil)
