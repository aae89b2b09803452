package paste

import "time"

// bondSettle is how long a new uinput device takes to register with the
// input subsystem before it delivers keys.
const bondSettle = 2 * time.Second
