// Package sdf loads model schemas from SDF model descriptions.
//
// A model type "cart" is looked up as a directory named cart on the model
// search path. The directory's model.config lists the SDF files it ships,
// by format version; the newest is parsed. Nested <model> elements and
// <include> references are flattened into one schema whose link names are
// scoped with "::", e.g. "gripper::finger".
package sdf
