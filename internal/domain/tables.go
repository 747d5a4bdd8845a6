package domain

// Tables lists every model managed by AutoMigrate, parents before children.
var Tables = []interface{}{
	&Category{},
	&Product{},
	&ProductVariant{},
	&Image{},
	&Order{},
	&OrderItem{},
}
