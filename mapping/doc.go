// Package mapping converts Go structs to DynamoDB bins and back.
//
// An entity is any struct type used through a pointer. Its layout is read
// once by reflection and cached in a [Registry]:
//
//	type Customer struct {
//	    ID        string `entity:"id"`
//	    FirstName string `bin:"first_name"`
//	    LastName  string `bin:"last_name"`
//	    Version   int64  `entity:"version"`
//	    TTL       int32  `entity:"expiration"`
//	}
//
// # Tags
//
//   - bin:"name,opts" names the bin. Options are the ones understood by
//     attributevalue (omitempty, unixtime, stringset, ...). bin:"-" skips the field.
//   - entity:"id" marks the identifier. A field named ID is used when no field
//     is tagged. The id lives in the key attribute, never in a bin.
//   - entity:"version" marks the optional version field. It mirrors the record
//     generation and drives optimistic locking.
//   - entity:"expiration" marks the optional expiration field, in seconds
//     relative to now. Reads fill it with the remaining lifetime.
//
// # Documents
//
// Types implementing [Documented] control their set name, default expiration
// and touch-on-read behavior. Without it the set is the struct type name.
package mapping
