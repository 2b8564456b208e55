package composer

// InstrumentationName scopes the composer's meters and tracers.
const InstrumentationName = "github.com/yairfalse/threatforge/pkg/composer"
