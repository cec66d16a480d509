package source

var PrjCRS = prjCRS
