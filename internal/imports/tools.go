package imports

import (
	// Tool packages register themselves with the registry via init()
	_ "github.com/lectorhq/docstract/internal/tools/docquality"
	_ "github.com/lectorhq/docstract/internal/tools/extractdoc"
)
