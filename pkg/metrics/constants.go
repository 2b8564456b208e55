package metrics

// Namespace prefixes every exported series.
const Namespace = "threatforge"
