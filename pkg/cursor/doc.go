// Package cursor implements keyset pagination over (created_at, id).
//
// Tokens are opaque to clients: base64 of {"created_at": RFC 3339, "id": ...}.
// Because id breaks timestamp ties, the order is total and a page boundary is
// stable while rows are inserted concurrently. Stores read
// Query.FetchLimit() rows strictly after Query.After and hand them to
// Paginate:
//
//	q, err := cursor.Parse(req.Cursor, req.Limit, req.Order)
//	if err != nil {
//	    return err
//	}
//	rows, err := store.List(ctx, q)
//	page := cursor.Paginate(rows, q, func(s Subscription) cursor.Cursor {
//	    return cursor.Of(s.CreatedAt, s.ID.String())
//	})
package cursor
