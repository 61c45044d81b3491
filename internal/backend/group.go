package backend

import (
	"fmt"
	"time"
)

// InsertGroup creates a group and enrolls the owner as its first member.
func (db *DB) InsertGroup(g *Group) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UnixMilli()
	if g.CreatedAt == 0 {
		g.CreatedAt = now
	}
	if _, err := tx.Exec(`
		INSERT INTO groups (id, name, description, image_url, owner_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		g.ID, g.Name, g.Description, g.ImageURL, g.OwnerID, g.CreatedAt); err != nil {
		return fmt.Errorf("insert group: %w", err)
	}
	if _, err := tx.Exec(`
		INSERT INTO group_members (group_id, user_id, joined_at)
		VALUES (?, ?, ?)`,
		g.ID, g.OwnerID, now); err != nil {
		return fmt.Errorf("enroll owner: %w", err)
	}
	return tx.Commit()
}

// AddGroupMember enrolls a user into a group (idempotent).
func (db *DB) AddGroupMember(groupID, userID string) error {
	_, err := db.Exec(`
		INSERT INTO group_members (group_id, user_id, joined_at)
		VALUES (?, ?, ?)
		ON CONFLICT(group_id, user_id) DO NOTHING`,
		groupID, userID, time.Now().UnixMilli())
	return err
}

// ListGroupsForUser returns the groups the user belongs to with derived
// member counts, newest group first.
func (db *DB) ListGroupsForUser(userID string) ([]GroupInfo, error) {
	rows, err := db.Query(`
		SELECT g.id, g.name, g.description, g.image_url, g.owner_id, g.created_at,
		       (SELECT COUNT(*) FROM group_members gm2 WHERE gm2.group_id = g.id) AS member_count
		FROM groups g
		JOIN group_members gm ON gm.group_id = g.id
		WHERE gm.user_id = ?
		ORDER BY g.created_at DESC`,
		userID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var groups []GroupInfo
	for rows.Next() {
		var g GroupInfo
		if err := rows.Scan(&g.ID, &g.Name, &g.Description, &g.ImageURL, &g.OwnerID, &g.CreatedAt, &g.MemberCount); err != nil {
			return nil, err
		}
		groups = append(groups, g)
	}
	return groups, rows.Err()
}

// GroupCount returns the number of groups the user belongs to.
func (db *DB) GroupCount(userID string) (int64, error) {
	var count int64
	err := db.QueryRow(`SELECT COUNT(*) FROM group_members WHERE user_id = ?`, userID).Scan(&count)
	return count, err
}
