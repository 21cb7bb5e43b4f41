// Package pipeline defines the types, collaborator interfaces and pure helpers shared by the
// image pipeline subsystems.
//
// A module load flows Resolver → Fingerprinter → cache → BuildAssetPath and yields a module
// body. The dev server and the build finalizer both read the cache populated by that flow.
package pipeline
