// Package catalog turns playlist definition files into tracked playlist groups.
//
// A group's definitions are (display name, source name) rows read from CSV. Source names are matched against
// the user's playlist library (the catalog). Because the remote service allows duplicate names, a lookup keeps the
// last playlist listed under a name; a group's override table pins known-ambiguous names to a fixed playlist id.
//
// [Pipeline] runs the whole flow for every configured group: fetch the catalog once, resolve each group's
// definitions, register the group and schedule its background population.
package catalog
