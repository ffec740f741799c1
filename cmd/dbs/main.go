// Command dbs is the reference CLI collaborator named in spec.md §6: a
// thin cobra front end whose Run functions call straight into
// github.com/dbsstore/dbs. It is not part of the core library.
package main

func main() {
	Execute()
}
